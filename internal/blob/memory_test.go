package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	bs := NewMemory()
	ctx := context.Background()

	info, err := bs.Put(ctx, "prj_1/ver_1/report.pdf", bytes.NewReader([]byte("%PDF-1.7")), 8, PutOptions{
		ContentType: "application/pdf",
		Metadata:    map[string]string{"filename": "report.pdf"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 8 || info.ETag == "" {
		t.Fatalf("unexpected info %#v", info)
	}

	if _, err := bs.Put(ctx, "prj_1/ver_1/report.pdf", bytes.NewReader([]byte("x")), 1, PutOptions{}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := bs.Get(ctx, "prj_1/ver_1/report.pdf")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "%PDF-1.7" || got.ContentType != "application/pdf" {
		t.Fatalf("bad payload %q %#v", b, got)
	}

	got.Metadata["filename"] = "mutated"
	head, err := bs.Head(ctx, "prj_1/ver_1/report.pdf")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Metadata["filename"] != "report.pdf" {
		t.Fatal("metadata must be copied on read")
	}

	if _, err := bs.Put(ctx, "prj_2/ver_9/a.html", bytes.NewReader([]byte("<p/>")), 4, PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	list, err := bs.List(ctx, "prj_1/")
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %+v", err, list)
	}
	all, _ := bs.List(ctx, "")
	if len(all) != 2 || all[0].Key != "prj_1/ver_1/report.pdf" {
		t.Fatalf("expected sorted full listing, got %+v", all)
	}

	ok, err := bs.Delete(ctx, "prj_1/ver_1/report.pdf")
	if err != nil || !ok {
		t.Fatalf("delete expected true, got %v %v", ok, err)
	}
	ok, _ = bs.Delete(ctx, "prj_1/ver_1/report.pdf")
	if ok {
		t.Fatal("second delete should be false")
	}
	if _, _, err := bs.Get(ctx, "prj_1/ver_1/report.pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryPresignUnsupported(t *testing.T) {
	if _, err := NewMemory().PresignURL(context.Background(), "k", 0); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestOpenWithoutEndpointUsesMemory(t *testing.T) {
	bs, err := Open(context.Background(), Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if bs.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %s", bs.Driver())
	}
}

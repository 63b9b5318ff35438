package archive

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/care/oviss/internal/types"
)

var slotTime = time.Date(2024, 3, 4, 9, 7, 0, 0, time.UTC)

func colorFrame(w, h int) *types.Frame {
	data := make([]byte, w*h*3)
	for i := 0; i < len(data); i += 3 {
		data[i] = 200
		data[i+2] = 40
	}
	return &types.Frame{Width: w, Height: h, Channels: 3, Data: data, TraceID: "t"}
}

func TestKey(t *testing.T) {
	got := Key("70144481", 3, slotTime)
	want := "70144481/3/20240304/2024_03_04 09_07.jpg"
	if got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestWriteSlotUsesFirstTimestamp(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(Config{StoreID: "store"}, FSSink{Root: root})

	entries := []Entry{
		{Channel: 1, Frame: colorFrame(8, 8), Timestamp: slotTime},
		{Channel: 2, Frame: colorFrame(8, 8), Timestamp: slotTime.Add(90 * time.Second)},
		{Channel: 3, Timestamp: slotTime.Add(time.Hour)},
	}

	records, err := w.WriteSlot(context.Background(), entries)
	if err != nil {
		t.Fatalf("WriteSlot: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}

	for _, ch := range []string{"1", "2", "3"} {
		p := filepath.Join(root, "store", ch, "20240304", "2024_03_04 09_07.jpg")
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing %s: %v", p, err)
		}
	}

	if !records[2].Placeholder || records[0].Placeholder {
		t.Errorf("placeholder flags wrong: %+v", records)
	}
}

func TestPlaceholderIsFlatGray(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(Config{StoreID: "s"}, FSSink{Root: root})

	records, err := w.WriteSlot(context.Background(), []Entry{{Channel: 4, Timestamp: slotTime}})
	if err != nil {
		t.Fatalf("WriteSlot: %v", err)
	}

	f, err := os.Open(records[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 640 || b.Dy() != 480 {
		t.Errorf("placeholder size = %dx%d, want 640x480", b.Dx(), b.Dy())
	}
	r, g, bl, _ := img.At(320, 240).RGBA()
	for _, v := range []uint32{r >> 8, g >> 8, bl >> 8} {
		if v < 126 || v > 130 {
			t.Errorf("center sample = %d, want ~128", v)
		}
	}
}

func TestWriteSlotFileMode(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(Config{StoreID: "70144481"}, FSSink{Root: root})
	records, err := w.WriteSlot(context.Background(), []Entry{
		{Channel: 1, Frame: colorFrame(4, 4), Timestamp: slotTime},
		{Channel: 2, Timestamp: slotTime},
	})
	if err != nil {
		t.Fatalf("WriteSlot: %v", err)
	}
	for _, rec := range records {
		info, err := os.Stat(rec.Path)
		if err != nil {
			t.Fatal(err)
		}
		if got := info.Mode().Perm(); got != FileMode {
			t.Errorf("%s mode = %v, want %v", rec.Path, got, FileMode)
		}
	}
}

func TestWriteSlotIdempotentDirectories(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(Config{StoreID: "s"}, FSSink{Root: root})
	entries := []Entry{{Channel: 1, Frame: colorFrame(4, 4), Timestamp: slotTime}}

	for i := 0; i < 2; i++ {
		if _, err := w.WriteSlot(context.Background(), entries); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	dir := filepath.Join(root, "s", "1", "20240304")
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Errorf("got %d files, want 1 (no leftover temp files)", len(files))
	}
}

func TestWriteSlotConcurrentDirectoryCreation(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(Config{StoreID: "s"}, FSSink{Root: root})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(minute int) {
			defer wg.Done()
			ts := slotTime.Add(time.Duration(minute) * time.Minute)
			_, err := w.WriteSlot(context.Background(), []Entry{{Channel: 2, Timestamp: ts}})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent write: %v", err)
		}
	}
}

func TestWriteSlotInvalidFrame(t *testing.T) {
	w := NewWriter(Config{StoreID: "s"}, FSSink{Root: t.TempDir()})
	bad := &types.Frame{Width: 4, Height: 4, Channels: 3, Data: make([]byte, 5)}

	records, err := w.WriteSlot(context.Background(), []Entry{
		{Channel: 1, Frame: bad, Timestamp: slotTime},
		{Channel: 2, Timestamp: slotTime},
	})
	if err == nil {
		t.Fatal("expected error for malformed frame")
	}
	if len(records) != 1 || records[0].Channel != 2 {
		t.Errorf("records = %+v, want only channel 2", records)
	}
}

type fakeS3 struct {
	mu   sync.Mutex
	keys []string
	body []byte
	err  error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.keys = append(f.keys, *in.Key)
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Mirror(t *testing.T) {
	fake := &fakeS3{}
	mirror := &S3Sink{client: fake, bucket: "snapshots", prefix: "stores"}
	w := NewWriter(Config{StoreID: "s"}, FSSink{Root: t.TempDir()}, mirror)

	if _, err := w.WriteSlot(context.Background(), []Entry{{Channel: 1, Timestamp: slotTime}}); err != nil {
		t.Fatalf("WriteSlot: %v", err)
	}
	if len(fake.keys) != 1 || fake.keys[0] != "stores/s/1/20240304/2024_03_04 09_07.jpg" {
		t.Errorf("keys = %v", fake.keys)
	}
	if !bytes.HasPrefix(fake.body, []byte{0xFF, 0xD8}) {
		t.Error("mirror body is not a JPEG")
	}
}

func TestS3MirrorFailureDoesNotFailSlot(t *testing.T) {
	fake := &fakeS3{err: errors.New("access denied")}
	mirror := &S3Sink{client: fake, bucket: "b"}

	var mirrorErrs int
	w := NewWriter(Config{StoreID: "s"}, FSSink{Root: t.TempDir()}, mirror)
	w.OnMirrorError = func(err error) {
		if !strings.Contains(err.Error(), "access denied") {
			t.Errorf("unexpected mirror error: %v", err)
		}
		mirrorErrs++
	}

	records, err := w.WriteSlot(context.Background(), []Entry{{Channel: 1, Timestamp: slotTime}})
	if err != nil {
		t.Fatalf("WriteSlot: %v", err)
	}
	if len(records) != 1 || mirrorErrs != 1 {
		t.Errorf("records=%d mirrorErrs=%d", len(records), mirrorErrs)
	}
}

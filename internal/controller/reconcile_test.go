package controller

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bojiang/toy-tunnel/internal/models"
)

type fakeIface struct {
	present  bool
	probeErr error
	upErr    error
	loadErr  error
	calls    []string
	// содержимое файла в момент up/reload
	seen string
	path string
}

func (f *fakeIface) Present(_ context.Context, name string) (bool, error) {
	f.calls = append(f.calls, "present "+name)
	return f.present, f.probeErr
}

func (f *fakeIface) Up(ctx context.Context, name string) error {
	f.calls = append(f.calls, "up "+name)
	if err := ctx.Err(); err != nil {
		return err
	}
	f.read()
	if f.upErr == nil {
		f.present = true
	}
	return f.upErr
}

func (f *fakeIface) Reload(_ context.Context, name string) error {
	f.calls = append(f.calls, "reload "+name)
	f.read()
	return f.loadErr
}

func (f *fakeIface) read() {
	b, _ := os.ReadFile(f.path)
	f.seen = string(b)
}

func newTestReconciler(t *testing.T, iface *fakeIface) *Reconciler {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "wireguard")
	r := NewReconciler(iface, Options{Interface: "wg0", ConfigDir: dir})
	iface.path = r.ConfigPath()
	return r
}

func TestApplyAbsentBringsUp(t *testing.T) {
	iface := &fakeIface{}
	r := newTestReconciler(t, iface)

	state, err := r.Apply(context.Background(), "[Interface]\n")
	if err != nil {
		t.Fatal(err)
	}
	if state != StateAbsent {
		t.Fatalf("state = %s", state)
	}
	if strings.Join(iface.calls, ",") != "present wg0,up wg0" {
		t.Fatalf("calls = %v", iface.calls)
	}
	if iface.seen != "[Interface]\n" {
		t.Fatalf("file at up time = %q", iface.seen)
	}

	info, err := os.Stat(r.ConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestApplyPresentReloads(t *testing.T) {
	iface := &fakeIface{present: true}
	r := newTestReconciler(t, iface)

	conf := "[Interface]\n\n[Peer]\nPublicKey = k\n"
	state, err := r.Apply(context.Background(), conf)
	if err != nil {
		t.Fatal(err)
	}
	if state != StatePresent {
		t.Fatalf("state = %s", state)
	}
	if strings.Join(iface.calls, ",") != "present wg0,reload wg0" {
		t.Fatalf("calls = %v", iface.calls)
	}
	if iface.seen != conf {
		t.Fatalf("file at reload time = %q", iface.seen)
	}
}

func TestApplyTwiceIsIdempotent(t *testing.T) {
	iface := &fakeIface{}
	r := newTestReconciler(t, iface)
	ctx := context.Background()

	if _, err := r.Apply(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	first := r.LastSync()
	state, err := r.Apply(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if state != StatePresent {
		t.Fatalf("second apply from %s, want present", state)
	}
	if r.LastSync().Checksum != first.Checksum {
		t.Fatal("checksum changed for identical config")
	}
}

func TestApplyErrors(t *testing.T) {
	cause := errors.New("exit status 1")
	tests := []struct {
		name  string
		iface *fakeIface
		want  error
	}{
		{"up fails", &fakeIface{upErr: cause}, models.ErrInterfaceUp},
		{"reload fails", &fakeIface{present: true, loadErr: cause}, models.ErrInterfaceReload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReconciler(t, tt.iface)
			_, err := r.Apply(context.Background(), "conf")
			if !errors.Is(err, tt.want) || !errors.Is(err, cause) {
				t.Fatalf("err = %v, want %v wrapping cause", err, tt.want)
			}
			last := r.LastSync()
			if last.Err == nil || last.At.IsZero() {
				t.Fatalf("LastSync = %+v, want recorded failure", last)
			}
			// файл записан несмотря на ошибку: следующий проход начнёт с него
			if b, _ := os.ReadFile(r.ConfigPath()); string(b) != "conf" {
				t.Fatalf("config on disk = %q", b)
			}
		})
	}
}

func TestApplyIgnoresCallerCancellation(t *testing.T) {
	iface := &fakeIface{}
	r := newTestReconciler(t, iface)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Apply(ctx, "x"); err != nil {
		t.Fatalf("Apply on cancelled context: %v", err)
	}
}

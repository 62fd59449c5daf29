package controller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/moby/sys/atomicwriter"
	"github.com/sirupsen/logrus"

	"github.com/bojiang/toy-tunnel/internal/logs"
	"github.com/bojiang/toy-tunnel/internal/models"
)

// State: состояние живого интерфейса перед применением.
type State string

const (
	StateAbsent  State = "absent"
	StatePresent State = "present"
)

// Interface: внешние возможности управления интерфейсом.
type Interface interface {
	Present(ctx context.Context, name string) (bool, error)
	Up(ctx context.Context, name string) error
	Reload(ctx context.Context, name string) error
}

type Options struct {
	Interface      string        // wg0
	ConfigDir      string        // /etc/wireguard
	CommandTimeout time.Duration // на весь проход; 0: без ограничения
}

// SyncResult: итог последнего прохода (для /readyz и status).
type SyncResult struct {
	At       time.Time
	From     State
	Checksum string
	Err      error
}

// Reconciler записывает конфиг сервера на диск и применяет его к интерфейсу:
// ABSENT → up из файла, PRESENT → живой reload без разрыва сессий.
type Reconciler struct {
	iface Interface
	opts  Options

	mu   sync.Mutex
	last SyncResult
	now  func() time.Time
}

func NewReconciler(iface Interface, opts Options) *Reconciler {
	return &Reconciler{iface: iface, opts: opts, now: time.Now}
}

func (r *Reconciler) ConfigPath() string {
	return filepath.Join(r.opts.ConfigDir, r.opts.Interface+".conf")
}

// Apply: запись, проба, up или reload. Отмена контекста вызывающего не прерывает
// проход: запись и применение доводятся до конца. Повторный вызов с тем же
// конфигом безопасен.
func (r *Reconciler) Apply(ctx context.Context, conf string) (State, error) {
	ctx = context.WithoutCancel(ctx)
	if r.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.CommandTimeout)
		defer cancel()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sum := checksum(conf)
	log := logs.With(logrus.Fields{
		"interface": r.opts.Interface,
		"path":      r.ConfigPath(),
		"checksum":  sum[:12],
	})

	state, err := r.apply(ctx, conf, log)
	r.last = SyncResult{At: r.now().UTC(), From: state, Checksum: sum, Err: err}
	if err != nil {
		log.WithError(err).Error("wireguard sync failed")
		return state, err
	}
	return state, nil
}

func (r *Reconciler) apply(ctx context.Context, conf string, log *logrus.Entry) (State, error) {
	if err := r.write(conf); err != nil {
		return "", err
	}
	log.Info("wrote wireguard config")

	present, err := r.iface.Present(ctx, r.opts.Interface)
	if err != nil {
		return "", fmt.Errorf("probe interface %s: %w", r.opts.Interface, err)
	}
	if !present {
		log.Info("wireguard interface not found, bringing it up")
		if err := r.iface.Up(ctx, r.opts.Interface); err != nil {
			return StateAbsent, fmt.Errorf("%w: %s: %w", models.ErrInterfaceUp, r.opts.Interface, err)
		}
		return StateAbsent, nil
	}
	log.Info("updating wireguard config")
	if err := r.iface.Reload(ctx, r.opts.Interface); err != nil {
		return StatePresent, fmt.Errorf("%w: %s: %w", models.ErrInterfaceReload, r.opts.Interface, err)
	}
	return StatePresent, nil
}

// write атомарно заменяет файл: после падения на диске либо старый, либо новый конфиг.
func (r *Reconciler) write(conf string) error {
	if err := os.MkdirAll(r.opts.ConfigDir, 0o700); err != nil {
		return fmt.Errorf("create wireguard config dir: %w", err)
	}
	if err := atomicwriter.WriteFile(r.ConfigPath(), []byte(conf), 0o600); err != nil {
		return fmt.Errorf("write wireguard config: %w", err)
	}
	return nil
}

func (r *Reconciler) LastSync() SyncResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func checksum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

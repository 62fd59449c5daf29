package wireguard

import (
	"context"
	"fmt"
)

// ProbeFunc отвечает, поднят ли интерфейс с таким именем.
type ProbeFunc func(ctx context.Context, name string) (bool, error)

// WGQuick управляет интерфейсом через wg-quick/wg, читая <config_dir>/<name>.conf.
// Предполагается один процесс-владелец интерфейса: проверка Present и последующее
// действие не атомарны.
type WGQuick struct {
	Run   Runner
	Probe ProbeFunc
}

func NewWGQuick(run Runner) *WGQuick {
	if run == nil {
		run = ExecRunner
	}
	w := &WGQuick{Run: run}
	w.Probe = platformProbe(w)
	return w
}

func (w *WGQuick) Present(ctx context.Context, name string) (bool, error) {
	return w.Probe(ctx, name)
}

// Up поднимает интерфейс из файла конфигурации.
func (w *WGQuick) Up(ctx context.Context, name string) error {
	_, err := w.Run(ctx, nil, "wg-quick", "up", name)
	return err
}

// Reload применяет файл к живому интерфейсу без разрыва сессий:
// `wg syncconf` сравнивает конфиг с текущим состоянием и меняет только разницу.
// Поля wg-quick (Address, DNS, ...) wg не понимает, поэтому сначала strip.
func (w *WGQuick) Reload(ctx context.Context, name string) error {
	stripped, err := w.Run(ctx, nil, "wg-quick", "strip", name)
	if err != nil {
		return err
	}
	if _, err := w.Run(ctx, stripped, "wg", "syncconf", name, "/dev/stdin"); err != nil {
		return fmt.Errorf("syncconf: %w", err)
	}
	return nil
}

// showProbe: `wg show <name>` завершается с ошибкой, если интерфейса нет.
func (w *WGQuick) showProbe(ctx context.Context, name string) (bool, error) {
	if _, err := w.Run(ctx, nil, "wg", "show", name); err != nil {
		return false, nil
	}
	return true, nil
}

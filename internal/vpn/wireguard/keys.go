package wireguard

import (
	"context"
	"fmt"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/bojiang/toy-tunnel/internal/models"
)

// NativeKeys генерирует пару ключей в процессе (curve25519 через wgtypes).
type NativeKeys struct{}

func (NativeKeys) Generate(context.Context) (models.KeyPair, error) {
	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return models.KeyPair{}, err
	}
	return models.KeyPair{Private: priv.String(), Public: priv.PublicKey().String()}, nil
}

// ToolKeys зовёт `wg genkey` и `wg pubkey`, как это делает wg-quick.
type ToolKeys struct {
	Run Runner
}

func (k ToolKeys) Generate(ctx context.Context) (models.KeyPair, error) {
	run := k.Run
	if run == nil {
		run = ExecRunner
	}
	out, err := run(ctx, nil, "wg", "genkey")
	if err != nil {
		return models.KeyPair{}, err
	}
	priv := strings.TrimSpace(string(out))
	out, err = run(ctx, []byte(priv+"\n"), "wg", "pubkey")
	if err != nil {
		return models.KeyPair{}, err
	}
	pub := strings.TrimSpace(string(out))

	// утилита могла вернуть мусор: проверяем, что пара согласована
	pk, err := wgtypes.ParseKey(priv)
	if err != nil {
		return models.KeyPair{}, fmt.Errorf("wg genkey: %w", err)
	}
	if pk.PublicKey().String() != pub {
		return models.KeyPair{}, fmt.Errorf("wg pubkey: public key does not match private key")
	}
	return models.KeyPair{Private: priv, Public: pub}, nil
}

// PublicKeyOf выводит публичный ключ из приватного.
func PublicKeyOf(private string) (string, error) {
	k, err := wgtypes.ParseKey(private)
	if err != nil {
		return "", err
	}
	return k.PublicKey().String(), nil
}

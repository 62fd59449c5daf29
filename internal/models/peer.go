package models

import "time"

const (
	// ServerPeerID: id записи самого сервера, клиентам не выдаётся.
	ServerPeerID uint = 0
	// ServerIdentity зарезервирован за серверной записью.
	ServerIdentity = "@server"
)

// Peer описывает участника VPN, сервер (ID 0) или клиента.
// Ключи создаются один раз при вставке и больше не меняются.
type Peer struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id" yaml:"id"`
	Identity   string    `gorm:"uniqueIndex;size:255;not null" json:"identity" yaml:"identity"`
	Label      string    `gorm:"size:255;not null" json:"label" yaml:"label"`
	PrivateKey string    `gorm:"size:64;not null" json:"-" yaml:"-"`
	PublicKey  string    `gorm:"size:64;not null" json:"public_key" yaml:"public_key"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

func (Peer) TableName() string { return "peers" }

func (p *Peer) IsServer() bool { return p.ID == ServerPeerID }

// KeyPair: пара ключей WireGuard в base64.
type KeyPair struct {
	Private string
	Public  string
}

package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/bojiang/toy-tunnel/internal/models"
)

// KeyGenerator: внешняя возможность "сгенерировать пару ключей".
type KeyGenerator interface {
	Generate(ctx context.Context) (models.KeyPair, error)
}

// ListFilter: нужен ли серверный пир (id 0) в выборке.
type ListFilter struct {
	IncludeServer bool
}

// PeerStore: единственный владелец сохранённого состояния пиров.
type PeerStore struct {
	db   *gorm.DB
	keys KeyGenerator
	mu   sync.Mutex // сериализует вставки
	now  func() time.Time
}

// NewPeerStore создаёт таблицу, если её ещё нет: свежий файл БД не должен ломать поиск.
func NewPeerStore(db *gorm.DB, keys KeyGenerator) (*PeerStore, error) {
	if err := db.AutoMigrate(&models.Peer{}); err != nil {
		return nil, fmt.Errorf("migrate peers: %w", err)
	}
	return &PeerStore{db: db, keys: keys, now: time.Now}, nil
}

// Find ищет пира по identity (пробелы по краям не учитываются); нет записи: (nil, nil).
func (s *PeerStore) Find(ctx context.Context, identity string) (*models.Peer, error) {
	identity = strings.TrimSpace(identity)
	var p models.Peer
	err := s.db.WithContext(ctx).Where("identity = ?", identity).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Server: серверная запись или nil, если её ещё не создали.
func (s *PeerStore) Server(ctx context.Context) (*models.Peer, error) {
	var p models.Peer
	err := s.db.WithContext(ctx).Where("id = ?", models.ServerPeerID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Insert генерирует ключи и сохраняет нового пира. admit вызывается внутри транзакции
// с уже выданным id; ошибка admit откатывает вставку целиком.
func (s *PeerStore) Insert(ctx context.Context, identity, label string, admit func(*models.Peer) error) (*models.Peer, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" || identity == models.ServerIdentity {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidIdentity, identity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.Find(ctx, identity)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrDuplicateIdentity, identity)
	}

	kp, err := s.keys.Generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrKeyGeneration, err)
	}

	p := &models.Peer{
		Identity:   identity,
		Label:      label,
		PrivateKey: kp.Private,
		PublicKey:  kp.Public,
		CreatedAt:  s.now().UTC(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		if p.IsServer() {
			return fmt.Errorf("store assigned reserved id %d to %q", models.ServerPeerID, identity)
		}
		if admit != nil {
			return admit(p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// InsertServer создаёт серверную запись с id 0; если она уже есть: возвращает её.
func (s *PeerStore) InsertServer(ctx context.Context) (*models.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, err := s.Server(ctx); err != nil || p != nil {
		return p, err
	}

	kp, err := s.keys.Generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrKeyGeneration, err)
	}
	p := &models.Peer{
		ID:         models.ServerPeerID,
		Identity:   models.ServerIdentity,
		Label:      "server",
		PrivateKey: kp.Private,
		PublicKey:  kp.Public,
		CreatedAt:  s.now().UTC(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// MySQL без NO_AUTO_VALUE_ON_ZERO заменит явный 0 на следующий auto_increment
		if tx.Dialector.Name() == "mysql" {
			if err := tx.Exec("SET SESSION sql_mode = CONCAT(@@SESSION.sql_mode, ',NO_AUTO_VALUE_ON_ZERO')").Error; err != nil {
				return err
			}
		}
		// map, а не struct: gorm выкидывает нулевой первичный ключ из INSERT
		return tx.Model(&models.Peer{}).Create(map[string]any{
			"id":          p.ID,
			"identity":    p.Identity,
			"label":       p.Label,
			"private_key": p.PrivateKey,
			"public_key":  p.PublicKey,
			"created_at":  p.CreatedAt,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("insert server peer: %w", err)
	}
	return p, nil
}

// List отдаёт пиров по возрастанию id.
func (s *PeerStore) List(ctx context.Context, f ListFilter) ([]models.Peer, error) {
	q := s.db.WithContext(ctx).Order("id asc")
	if !f.IncludeServer {
		q = q.Where("id > ?", models.ServerPeerID)
	}
	var out []models.Peer
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

package models

import "errors"

// Ошибки ядра. Наружу уходят обёрнутыми через %w,
// web-слой сопоставляет их с кодами ответа через errors.Is.
var (
	ErrDuplicateIdentity    = errors.New("identity already registered")
	ErrInvalidIdentity      = errors.New("invalid identity")
	ErrKeyGeneration        = errors.New("key generation failed")
	ErrSubnetExhausted      = errors.New("subnet exhausted")
	ErrInterfaceUp          = errors.New("interface up failed")
	ErrInterfaceReload      = errors.New("interface reload failed")
	ErrEndpointUnresolvable = errors.New("endpoint unresolvable")
	ErrUnauthenticated      = errors.New("unauthenticated")
)

// Package alert 告警出口与告警历史
package alert

// Storer data persistence
type Storer interface {
	Alert() AlertStorer
}

// Core business domain
type Core struct {
	store Storer
}

// NewCore create business domain
func NewCore(store Storer) Core {
	return Core{store: store}
}

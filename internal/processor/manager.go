package processor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ShiningRay/exchange-engine/internal/core"
)

// Manager runs one processor per registered symbol. A crashed processor
// is logged and left down so corrupt state stays visible; siblings are
// unaffected.
type Manager struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewManager(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{cfg: cfg, log: log}
}

// Start launches a processor goroutine for every member of the symbol
// registry.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("manager already started")
	}
	symbols, err := m.cfg.Store.SetMembers(ctx, core.SymbolRegistryKey)
	if err != nil {
		return fmt.Errorf("load symbol registry: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	for _, symbol := range symbols {
		m.launch(runCtx, symbol)
	}
	m.started = true
	m.log.Info("processor manager started", zap.Strings("symbols", symbols))
	return nil
}

func (m *Manager) launch(ctx context.Context, symbol string) {
	p := New(symbol, m.cfg)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.log.Error("processor crashed",
					zap.String("symbol", symbol),
					zap.Any("panic", r),
					zap.Stack("stack"))
			}
		}()
		p.Run(ctx)
	}()
}

// Stop signals every processor to finish its current iteration and waits
// for all of them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dotsetgreg/mindful/pkg/bus"
	"github.com/dotsetgreg/mindful/pkg/config"
)

// Manager owns the enabled channels, starts and stops them together,
// and dispatches outbound replies from the bus.
type Manager struct {
	channels     map[string]Channel
	bus          *bus.MessageBus
	dispatchTask *asyncTask
	mu           sync.RWMutex
}

type asyncTask struct {
	cancel context.CancelFunc
}

func NewManager(cfg config.ChannelsConfig, messageBus *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      messageBus,
	}

	if strings.TrimSpace(cfg.Discord.Token) != "" {
		discord, err := NewDiscordChannel(cfg.Discord, messageBus)
		if err != nil {
			return nil, fmt.Errorf("initialize discord channel: %w", err)
		}
		m.channels["discord"] = discord
	}

	log.Info().Int("enabled_channels", len(m.channels)).Msg("channel manager initialized")
	return m, nil
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	if len(m.channels) == 0 {
		m.mu.RUnlock()
		log.Warn().Msg("no channels enabled")
		return nil
	}
	channelsCopy := make(map[string]Channel, len(m.channels))
	for name, channel := range m.channels {
		channelsCopy[name] = channel
	}
	m.mu.RUnlock()

	var started []string
	var startErrors []string
	for name, channel := range channelsCopy {
		log.Info().Str("channel", name).Msg("starting channel")
		if err := channel.Start(ctx); err != nil {
			log.Error().Str("channel", name).Err(err).Msg("failed to start channel")
			startErrors = append(startErrors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		started = append(started, name)
	}

	if len(startErrors) > 0 {
		for _, name := range started {
			if err := channelsCopy[name].Stop(ctx); err != nil {
				log.Warn().Str("channel", name).Err(err).Msg("failed to stop partially-started channel")
			}
		}
		return fmt.Errorf("failed to start channels: %s", strings.Join(startErrors, "; "))
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.dispatchTask != nil {
		m.dispatchTask.cancel()
	}
	m.dispatchTask = &asyncTask{cancel: cancel}
	m.mu.Unlock()

	go m.dispatchOutbound(dispatchCtx)

	log.Info().Int("count", len(started)).Msg("all channels started")
	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dispatchTask != nil {
		m.dispatchTask.cancel()
		m.dispatchTask = nil
	}

	for name, channel := range m.channels {
		if err := channel.Stop(ctx); err != nil {
			log.Error().Str("channel", name).Err(err).Msg("error stopping channel")
		}
	}

	log.Info().Msg("all channels stopped")
	return nil
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, ok := m.bus.SubscribeOutbound(ctx)
			if !ok {
				continue
			}

			m.mu.RLock()
			channel, exists := m.channels[msg.Channel]
			m.mu.RUnlock()

			if !exists {
				log.Warn().Str("channel", msg.Channel).Msg("unknown channel for outbound message")
				continue
			}

			if err := channel.Send(ctx, msg); err != nil {
				log.Error().Str("channel", msg.Channel).Err(err).Msg("error sending message to channel")
			}
		}
	}
}

func (m *Manager) EnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

package chargepoint

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"

	"charge_point/protocol"
)

// ConfigurationKey is one entry the charge point reports in
// GetConfiguration.
type ConfigurationKey struct {
	Key      string `mapstructure:"key" json:"key" validate:"required"`
	Readonly bool   `mapstructure:"readonly" json:"readonly"`
	Value    string `mapstructure:"value" json:"value"`
}

// ConfigurationStore holds the configuration keys in the order they were
// given.
type ConfigurationStore struct {
	mu    sync.RWMutex
	keys  []ConfigurationKey
	index map[string]int
}

func NewConfigurationStore(keys []ConfigurationKey) *ConfigurationStore {
	s := &ConfigurationStore{index: make(map[string]int, len(keys))}
	for _, k := range keys {
		if i, ok := s.index[k.Key]; ok {
			s.keys[i] = k
			continue
		}
		s.index[k.Key] = len(s.keys)
		s.keys = append(s.keys, k)
	}
	return s
}

// Get returns the value of key.
func (s *ConfigurationStore) Get(key string) (ConfigurationKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[key]
	if !ok {
		return ConfigurationKey{}, false
	}
	return s.keys[i], true
}

// Lookup answers a GetConfiguration request: all keys when none are asked
// for, otherwise the known ones with the rest listed as unknown.
func (s *ConfigurationStore) Lookup(requested []string) *core.GetConfigurationConfirmation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	confirmation := &core.GetConfigurationConfirmation{}
	if len(requested) == 0 {
		for _, k := range s.keys {
			confirmation.ConfigurationKey = append(confirmation.ConfigurationKey, toOCPP(k))
		}
		return confirmation
	}
	for _, key := range requested {
		i, ok := s.index[key]
		if !ok {
			confirmation.UnknownKey = append(confirmation.UnknownKey, key)
			continue
		}
		confirmation.ConfigurationKey = append(confirmation.ConfigurationKey, toOCPP(s.keys[i]))
	}
	return confirmation
}

// HandleGetConfiguration serves GetConfiguration calls from the central
// system.
func (s *ConfigurationStore) HandleGetConfiguration(_ context.Context, payload json.RawMessage) (interface{}, error) {
	var request core.GetConfigurationRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &request); err != nil {
			return nil, &ocpp.Error{Code: protocol.FormationViolation, Description: err.Error()}
		}
	}
	return s.Lookup(request.Key), nil
}

func toOCPP(k ConfigurationKey) core.ConfigurationKey {
	value := k.Value
	return core.ConfigurationKey{Key: k.Key, Readonly: k.Readonly, Value: &value}
}

// Package settings provides typed access to the runtime-tunable encoding
// and queue knobs stored in the settings table. Reads fall back to defaults;
// writes are validated and land atomically.
package settings

import (
	"strconv"

	"github.com/lkern/shrinkarr/internal/errs"
	"github.com/lkern/shrinkarr/internal/logger"
	"github.com/lkern/shrinkarr/internal/store"
)

// Setting keys. Every key not listed here is rejected by Update.
const (
	KeyScale4KTo1080p  = "scale_4k_to_1080p"
	KeyBitrateFactor   = "bitrate_factor"
	KeyBitrateCap1080p = "bitrate_cap_1080p"
	KeyBitrateCap720p  = "bitrate_cap_720p"
	KeyBitrateCapOther = "bitrate_cap_other"
	KeyMinFileSizeMB   = "min_file_size_mb"
	KeySortOrder       = "sort_order"
	KeyLibraryPriority = "library_priority"
)

// Bounds for numeric settings.
const (
	MaxBitrateCapMbps = 100
	MaxMinFileSizeMB  = 100000
)

var defaults = map[string]string{
	KeyScale4KTo1080p:  "true",
	KeyBitrateFactor:   "0.5",
	KeyBitrateCap1080p: "6",
	KeyBitrateCap720p:  "3",
	KeyBitrateCapOther: "3",
	KeyMinFileSizeMB:   "500",
	KeySortOrder:       string(store.SortBitrateDesc),
	KeyLibraryPriority: string(store.PriorityAlphabeticalAsc),
}

// Encoding is a consistent snapshot of the knobs a single transcode plan
// needs. Caps are in Mbps as stored.
type Encoding struct {
	Scale4KTo1080p bool
	BitrateFactor  float64
	Cap1080pMbps   int
	Cap720pMbps    int
	CapOtherMbps   int
}

// Service reads and writes settings. Safe for concurrent use; every read
// goes to the store so changes apply to the next file without a restart.
type Service struct {
	store *store.SQLiteStore
}

func NewService(st *store.SQLiteStore) *Service {
	return &Service{store: st}
}

// get returns the stored value for key, or its default when unset or
// unreadable. Storage errors are logged and swallowed: a broken settings
// read must not stall the encode loop.
func (s *Service) get(key string) string {
	value, ok, err := s.store.GetSetting(key)
	if err != nil {
		logger.Warn("Failed to read setting, using default", "key", key, "error", err)
		return defaults[key]
	}
	if !ok {
		return defaults[key]
	}
	return value
}

// Scale4KTo1080p reports whether 4K sources are downscaled to 1080p.
func (s *Service) Scale4KTo1080p() bool {
	v, err := strconv.ParseBool(s.get(KeyScale4KTo1080p))
	if err != nil {
		v, _ = strconv.ParseBool(defaults[KeyScale4KTo1080p])
	}
	return v
}

// BitrateFactor returns the target-bitrate multiplier in (0, 1].
func (s *Service) BitrateFactor() float64 {
	v, err := strconv.ParseFloat(s.get(KeyBitrateFactor), 64)
	if err != nil || v <= 0 || v > 1 {
		v, _ = strconv.ParseFloat(defaults[KeyBitrateFactor], 64)
	}
	return v
}

// MinFileSizeMB returns the classification size floor in megabytes.
func (s *Service) MinFileSizeMB() int64 {
	v, err := strconv.ParseInt(s.get(KeyMinFileSizeMB), 10, 64)
	if err != nil || v < 0 {
		v, _ = strconv.ParseInt(defaults[KeyMinFileSizeMB], 10, 64)
	}
	return v
}

// SortOrder returns the within-library queue ordering.
func (s *Service) SortOrder() store.SortOrder {
	v := store.SortOrder(s.get(KeySortOrder))
	if !store.ValidSortOrder(v) {
		return store.SortOrder(defaults[KeySortOrder])
	}
	return v
}

// LibraryPriority returns the across-library queue ordering.
func (s *Service) LibraryPriority() store.LibraryPriority {
	v := store.LibraryPriority(s.get(KeyLibraryPriority))
	if !store.ValidLibraryPriority(v) {
		return store.LibraryPriority(defaults[KeyLibraryPriority])
	}
	return v
}

// Encoding returns the current transcode-plan knobs.
func (s *Service) Encoding() Encoding {
	return Encoding{
		Scale4KTo1080p: s.Scale4KTo1080p(),
		BitrateFactor:  s.BitrateFactor(),
		Cap1080pMbps:   s.capMbps(KeyBitrateCap1080p),
		Cap720pMbps:    s.capMbps(KeyBitrateCap720p),
		CapOtherMbps:   s.capMbps(KeyBitrateCapOther),
	}
}

func (s *Service) capMbps(key string) int {
	v, err := strconv.Atoi(s.get(key))
	if err != nil || v <= 0 || v > MaxBitrateCapMbps {
		v, _ = strconv.Atoi(defaults[key])
	}
	return v
}

// All returns every user-facing setting: defaults overlaid with stored
// values. Queue bookkeeping rows such as last_library_id are not included.
func (s *Service) All() (map[string]string, error) {
	stored, err := s.store.AllSettings()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(defaults))
	for key, def := range defaults {
		out[key] = def
		if v, ok := stored[key]; ok {
			out[key] = v
		}
	}
	return out, nil
}

// Update validates every key/value pair and then writes them in one
// transaction. A single invalid entry rejects the whole update.
func (s *Service) Update(values map[string]string) error {
	if len(values) == 0 {
		return errs.Validationf("no settings provided")
	}
	for key, value := range values {
		if err := validate(key, value); err != nil {
			return err
		}
	}
	return s.store.SetSettings(values)
}

func validate(key, value string) error {
	switch key {
	case KeyScale4KTo1080p:
		if _, err := strconv.ParseBool(value); err != nil {
			return errs.Validationf("%s must be a boolean: got %q", key, value)
		}
	case KeyBitrateFactor:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v <= 0 || v > 1 {
			return errs.Validationf("%s must be in (0, 1]: got %q", key, value)
		}
	case KeyBitrateCap1080p, KeyBitrateCap720p, KeyBitrateCapOther:
		v, err := strconv.Atoi(value)
		if err != nil || v <= 0 || v > MaxBitrateCapMbps {
			return errs.Validationf("%s must be an integer in (0, %d] Mbps: got %q", key, MaxBitrateCapMbps, value)
		}
	case KeyMinFileSizeMB:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil || v < 0 || v > MaxMinFileSizeMB {
			return errs.Validationf("%s must be an integer in [0, %d]: got %q", key, MaxMinFileSizeMB, value)
		}
	case KeySortOrder:
		if !store.ValidSortOrder(store.SortOrder(value)) {
			return errs.Validationf("%s must be one of bitrate_desc, bitrate_asc, alphabetical, random: got %q", key, value)
		}
	case KeyLibraryPriority:
		if !store.ValidLibraryPriority(store.LibraryPriority(value)) {
			return errs.Validationf("%s must be one of alphabetical_asc, alphabetical_desc, round_robin: got %q", key, value)
		}
	default:
		return errs.Validationf("unknown setting: %s", key)
	}
	return nil
}

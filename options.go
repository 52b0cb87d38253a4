package hnsw

import (
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/hnswindex/space"
)

// PersistenceMode selects how an index's data survives across process
// restarts.
type PersistenceMode int

const (
	// InMemory keeps no backing file; Save/Load must be called explicitly
	// (snapshot mode, see [Index.Save]).
	InMemory PersistenceMode = iota
	// Persistent backs the index with a data file in a directory (see
	// [Open]). [Index.PersistDirty] rewrites the whole image on every
	// call; individual dirty pages are not tracked.
	Persistent
)

// Options configures a new [Index]. Construct directly for programmatic
// use, or load from a checked-in config file with [ParseOptionsJSON].
type Options struct {
	// Dim is the fixed vector dimension. Required, > 0.
	Dim int

	// Space selects the distance kernel. Defaults to space.L2.
	Space space.Kind

	// Capacity is the initial slot capacity.
	Capacity uint32

	// M is the layer>0 neighbor list capacity; layer 0 uses 2*M.
	// Defaults to 16 if zero.
	M int

	// EfConstruction is the beam width used during insertion. Defaults to
	// 200 if zero.
	EfConstruction int

	// EfSearch is the initial runtime beam width for Knn. Defaults to
	// EfConstruction if zero. Changeable later via [Index.SetEf].
	EfSearch int

	// Seed seeds the level-sampling PRNG. Defaults to a fixed constant
	// (not time-based) so construction is reproducible unless the caller
	// opts into randomness explicitly.
	Seed uint64

	// AllowReplaceDeleted enables add_point's replace_deleted parameter to
	// reuse tombstoned slots. If false, Add always rejects
	// replace_deleted=true with ErrInvalidArgument.
	AllowReplaceDeleted bool

	// StoreOriginal keeps a parallel pre-normalization vector copy
	// alongside the normalized one. Only meaningful for cosine
	// (space.InnerProduct) indexes.
	StoreOriginal bool

	// Mode selects the persistence backend.
	Mode PersistenceMode

	// Path is the backing directory, required when Mode is Persistent.
	Path string

	// Logger receives unrecoverable-but-continuable I/O failures observed
	// during background-style flush paths (PersistDirty). Recoverable
	// errors are always returned to the caller, never logged. Defaults to
	// a discard logger.
	Logger *log.Logger
}

func (o *Options) setDefaults() {
	if o.M == 0 {
		o.M = 16
	}
	if o.EfConstruction == 0 {
		o.EfConstruction = 200
	}
	if o.EfSearch == 0 {
		o.EfSearch = o.EfConstruction
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
}

func (o *Options) validate() error {
	if o.Dim <= 0 {
		return wrap(fmt.Errorf("%w: dim must be > 0", ErrInvalidArgument), withOp("Init"))
	}
	if o.M <= 1 {
		return wrap(fmt.Errorf("%w: M must be > 1", ErrInvalidArgument), withOp("Init"))
	}
	if o.EfConstruction < 1 {
		return wrap(fmt.Errorf("%w: ef_construction must be >= 1", ErrInvalidArgument), withOp("Init"))
	}
	if o.EfSearch < 1 {
		return wrap(fmt.Errorf("%w: ef_search must be >= 1", ErrInvalidArgument), withOp("Init"))
	}
	if o.Mode == Persistent && o.Path == "" {
		return wrap(fmt.Errorf("%w: path required for persistent mode", ErrInvalidArgument), withOp("Init"))
	}
	return nil
}

// optionsJSON is the JSON-with-comments shape accepted by
// [ParseOptionsJSON]. Field names are deliberately snake_case to match the
// boundary-operation vocabulary in this package's external interface
// rather than Go field-naming convention, since this is a serialization
// surface meant to be hand-edited by embedders.
type optionsJSON struct {
	Dim                 int    `json:"dim"`
	Space               string `json:"space"`
	Capacity            uint32 `json:"capacity"`
	M                   int    `json:"m"`
	EfConstruction      int    `json:"ef_construction"`
	EfSearch            int    `json:"ef_search"`
	Seed                uint64 `json:"seed"`
	AllowReplaceDeleted bool   `json:"allow_replace_deleted"`
	StoreOriginal       bool   `json:"store_original"`
	Persistent          bool   `json:"persistent"`
	Path                string `json:"path"`
}

// ParseOptionsJSON parses a JSON-with-comments document (via
// github.com/tailscale/hujson) into [Options]. This is a boundary
// convenience for embedders that keep index parameters in a checked-in
// config file; it is not a CLI.
func ParseOptionsJSON(data []byte) (Options, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Options{}, wrap(fmt.Errorf("%w: %v", ErrInvalidArgument, err), withOp("ParseOptionsJSON"))
	}

	var raw optionsJSON
	if err := json.Unmarshal(standardized, &raw); err != nil {
		return Options{}, wrap(fmt.Errorf("%w: %v", ErrInvalidArgument, err), withOp("ParseOptionsJSON"))
	}

	opts := Options{
		Dim:                 raw.Dim,
		Capacity:            raw.Capacity,
		M:                   raw.M,
		EfConstruction:      raw.EfConstruction,
		EfSearch:            raw.EfSearch,
		Seed:                raw.Seed,
		AllowReplaceDeleted: raw.AllowReplaceDeleted,
		StoreOriginal:       raw.StoreOriginal,
		Path:                raw.Path,
	}

	switch raw.Space {
	case "", "l2":
		opts.Space = space.L2
	case "ip", "cosine":
		opts.Space = space.InnerProduct
	default:
		return Options{}, wrap(fmt.Errorf("%w: unknown space %q", ErrInvalidArgument, raw.Space), withOp("ParseOptionsJSON"))
	}

	if raw.Persistent {
		opts.Mode = Persistent
	}

	return opts, nil
}

package workers

import (
	"os"

	"gopkg.in/yaml.v3"

	"forestwatch/pkg/errors"
)

// WatchedTile is one tile whose model performance is reviewed
type WatchedTile struct {
	Region string `yaml:"region"`
	TileID string `yaml:"tile_id"`
}

// Watchlist is the YAML document listing watched tiles:
//
//	tiles:
//	  - region: amazon
//	    tile_id: 22MBU
type Watchlist struct {
	Tiles []WatchedTile `yaml:"tiles"`
}

// LoadWatchlist reads a watchlist file. A missing file is an empty watchlist.
func LoadWatchlist(path string) (*Watchlist, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Watchlist{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read watchlist %s", path)
	}
	return ParseWatchlist(data)
}

// ParseWatchlist decodes and validates a watchlist, dropping duplicate tiles
func ParseWatchlist(data []byte) (*Watchlist, error) {
	var raw Watchlist
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(errors.ErrDataIntegrity, "decode watchlist: %v", err)
	}

	seen := make(map[WatchedTile]struct{}, len(raw.Tiles))
	out := &Watchlist{}
	for i, t := range raw.Tiles {
		if t.Region == "" || t.TileID == "" {
			return nil, errors.NewValidationError("tiles", "region and tile_id required", i)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out.Tiles = append(out.Tiles, t)
	}
	return out, nil
}

package modelversion

import "forestwatch/internal/domain/storage"

const (
	ArtifactFile = "model.artifact"
	MetadataFile = "metadata.json"
)

// Layout maps versions onto object-store keys:
// {prefix}/{region}/{tileId}/{version}/model.artifact and .../metadata.json
type Layout struct {
	Prefix string
}

func (l Layout) TilePrefix(region, tileID string) string {
	return storage.Join(l.Prefix, region, tileID)
}

func (l Layout) VersionPrefix(region, tileID, versionID string) string {
	return storage.Join(l.Prefix, region, tileID, versionID)
}

func (l Layout) ArtifactKey(region, tileID, versionID string) string {
	return storage.Join(l.VersionPrefix(region, tileID, versionID), ArtifactFile)
}

func (l Layout) MetadataKey(region, tileID, versionID string) string {
	return storage.Join(l.VersionPrefix(region, tileID, versionID), MetadataFile)
}

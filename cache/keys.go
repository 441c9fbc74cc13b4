package cache

import (
	"fmt"
	"time"
)

// TTL is the expiration applied to every key this package writes, a
// compile-time constant of the external contract.
const TTL = 86400 * time.Second

// SeenKey is the cross-workflow admission-control key validate reserves to
// detect a divergent-checksum reingest before the version row exists.
func SeenKey(datasetID, version string) string {
	return fmt.Sprintf("seen:%s:%s", datasetID, version)
}

// SnapshotKey is the packaged snapshot payload for one version.
func SnapshotKey(datasetID, version string) string {
	return fmt.Sprintf("continent:%s:%s", datasetID, version)
}

// LatestKey holds the latest version identifier for a dataset.
func LatestKey(datasetID string) string {
	return fmt.Sprintf("continent:%s:latest", datasetID)
}

// DatasetTopic is the dataset-wide version-update pub/sub topic.
func DatasetTopic(datasetID string) string {
	return fmt.Sprintf("topic:%s", datasetID)
}

// UserTopic is the per-user view-ready pub/sub topic.
func UserTopic(datasetID, userID string) string {
	return fmt.Sprintf("topic:%s:%s", datasetID, userID)
}

package models

// Snapshot is a point-in-time view of the cache statistics.
type Snapshot struct {
	Hits       int64                        `json:"hits"`
	Misses     int64                        `json:"misses"`
	HitRate    float64                      `json:"hit_rate"`
	Sets       int64                        `json:"sets"`
	Deletes    int64                        `json:"deletes"`
	Evictions  int64                        `json:"evictions"`
	Namespaces map[string]NamespaceSnapshot `json:"per_namespace"`
}

// NamespaceSnapshot reports the local tier occupancy of one namespace.
type NamespaceSnapshot struct {
	Size    int `json:"size"`
	MaxSize int `json:"max_size"`
}

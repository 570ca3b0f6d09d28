package domain

// RuntimeSpec is the opaque runtime description produced by the project
// analyzer: how to start the bundle and where it listens.
type RuntimeSpec struct {
	ProjectRef   string            `json:"project_ref"`
	EntryCommand string            `json:"entry_command"`
	Port         int               `json:"port"`
	Env          map[string]string `json:"env,omitempty"`

	// Project shape inputs for complexity classification.
	FileCount       int  `json:"file_count"`
	DependencyCount int  `json:"dependency_count"`
	HasFramework    bool `json:"has_framework"`
}

// SandboxLimits caps the resources granted to one sandbox.
type SandboxLimits struct {
	MemoryMB   int `json:"memory_mb"`
	DiskMB     int `json:"disk_mb"`
	CPUPercent int `json:"cpu_percent"`
}

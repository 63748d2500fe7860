package release

import "strings"

// defaultMemoryMB applies when the image family is not in the table.
const defaultMemoryMB = 96

// memoryByFamilyMB is a static heuristic: memory limit by image family.
var memoryByFamilyMB = map[string]int64{
	"node":            256,
	"python":          192,
	"ruby":            192,
	"openjdk":         512,
	"eclipse-temurin": 512,
	"golang":          128,
	"nginx":           32,
	"httpd":           48,
	"redis":           64,
	"postgres":        256,
	"mysql":           384,
	"mariadb":         384,
	"mongo":           256,
}

// memoryLimitBytes resolves the memory cap for an image reference.
func memoryLimitBytes(image string) int64 {
	family := imageFamily(image)
	mb, ok := memoryByFamilyMB[family]
	if !ok {
		mb = defaultMemoryMB
	}
	return mb * 1024 * 1024
}

// imageFamily extracts the repository basename without tag or digest:
// "docker.io/library/node:20-alpine" -> "node".
func imageFamily(image string) string {
	name := image
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.IndexByte(name, '@'); idx >= 0 {
		name = name[:idx]
	}
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		name = name[:idx]
	}
	return strings.ToLower(strings.TrimSpace(name))
}

package collab

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
)

// DefaultGroundingPath is the bundled Secret Manager API definition.
const DefaultGroundingPath = "resources/secretmanager.proto"

//go:embed resources
var resources embed.FS

// Grounding supplies opaque reference text for generation.
type Grounding interface {
	Fetch(ctx context.Context) (string, error)
}

// FileGrounding reads a grounding document from a file system.
type FileGrounding struct {
	// Path of the document. Empty means DefaultGroundingPath.
	Path string
	// FS to read from. Nil means the operating system, unless Path is
	// empty, in which case the bundled resources are used.
	FS fs.FS
}

// NewFileGrounding reads path from the operating system file system.
func NewFileGrounding(path string) *FileGrounding { return &FileGrounding{Path: path} }

// DefaultGrounding reads the bundled Secret Manager proto.
func DefaultGrounding() *FileGrounding {
	return &FileGrounding{Path: DefaultGroundingPath, FS: resources}
}

// Fetch implements Grounding.
func (g *FileGrounding) Fetch(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, fsys := g.Path, g.FS
	if path == "" {
		path = DefaultGroundingPath
		if fsys == nil {
			fsys = resources
		}
	}

	var (
		data []byte
		err  error
	)

	if fsys != nil {
		data, err = fs.ReadFile(fsys, path)
	} else {
		data, err = os.ReadFile(path)
	}

	if err != nil {
		return "", fmt.Errorf("read grounding %s: %w", path, err)
	}

	return string(data), nil
}

// StaticGrounding returns fixed text.
type StaticGrounding string

// Fetch implements Grounding.
func (g StaticGrounding) Fetch(context.Context) (string, error) { return string(g), nil }

package vectorutils

import (
	"fmt"
	"log/slog"

	"github.com/papercomputeco/warden/pkg/dotdir"
	"github.com/papercomputeco/warden/pkg/vector"
	"github.com/papercomputeco/warden/pkg/vector/chroma"
	"github.com/papercomputeco/warden/pkg/vector/chromem"
	"github.com/papercomputeco/warden/pkg/vector/qdrant"
	"github.com/papercomputeco/warden/pkg/vector/sqlitevec"
)

type NewVectorDriverOpts struct {
	ProviderType string

	// TargetURL is a server URL for chroma and qdrant, and a directory for
	// sqlite and chromem. Empty selects DataDir.
	TargetURL string

	// DataDir is where embedded stores keep their files when TargetURL is
	// empty. Empty means purely in memory.
	DataDir string

	Collection string
	Dimensions uint
	Logger     *slog.Logger
}

func NewVectorDriver(o *NewVectorDriverOpts) (vector.VectorDriver, error) {
	dir := o.TargetURL
	if dir == "" {
		dir = o.DataDir
	}

	switch o.ProviderType {
	case "sqlite":
		dbPath := ":memory:"
		if dir != "" {
			dbPath = dotdir.IndexFile(dir, o.Collection)
		}
		return sqlitevec.NewSQLiteVecDriver(sqlitevec.Config{
			DBPath:     dbPath,
			Dimensions: o.Dimensions,
		}, o.Logger)
	case "chroma":
		return chroma.NewDriver(chroma.Config{
			URL:            o.TargetURL,
			CollectionName: o.Collection,
		}, o.Logger)
	case "qdrant":
		return qdrant.NewDriver(qdrant.Config{
			URL:            o.TargetURL,
			CollectionName: o.Collection,
			Dimensions:     o.Dimensions,
		}, o.Logger)
	case "chromem":
		persistDir := ""
		if dir != "" {
			persistDir = dotdir.ChromemDir(dir)
		}
		return chromem.NewDriver(chromem.Config{
			PersistDir:     persistDir,
			CollectionName: o.Collection,
		}, o.Logger)
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}

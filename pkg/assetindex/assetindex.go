// Package assetindex reads the relational asset index bundled as one of
// the manifest's files (the server-shipped SQLite database holding
// m_asset_package and m_asset_package_mapping). The core only reads these
// two tables — it is never written to.
package assetindex

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/util/dbutil"
)

// textureKeyConstant is the fixed third per-file key used by asset-index
// texture rows instead of a derived key (spec.md §3); only the extractor
// flow, out of this core's scope, consumes it — this package merely makes
// it available as a typed constant instead of a magic number scattered
// through extractor code.
const textureKeyConstant = 0x3039

// TextureKeyConstant exposes the fixed third key for texture rows.
func TextureKeyConstant() uint32 { return textureKeyConstant }

// Index wraps a read-only handle onto the asset index database.
type Index struct {
	db *dbutil.Database
}

// Open wraps an already-open *sql.DB (typically opened against the decrypted
// masterdata.db file written by the asset pipeline) as an Index.
func Open(raw *sql.DB) (*Index, error) {
	db, err := dbutil.NewWithDB(raw, "sqlite3")
	if err != nil {
		return nil, fmt.Errorf("assetindex: wrap db: %w", err)
	}
	return &Index{db: db}, nil
}

// PackageMapping is one row of m_asset_package_mapping.
type PackageMapping struct {
	PackName       string
	PackageKey     string
	FileSize       int64
	MetapackName   sql.NullString
	MetapackOffset sql.NullInt64
}

// TextureRow is the extractor-flow view over asset-index texture rows: the
// same shape as PackageMapping, but keyed with the fixed constant instead of
// a derived key.
type TextureRow struct {
	PackageMapping
	ThirdKey uint32
}

// PackageKeys returns every known package_key from m_asset_package.
func (idx *Index) PackageKeys(ctx context.Context) ([]string, error) {
	rows, err := idx.db.Query(ctx, `SELECT package_key FROM m_asset_package`)
	if err != nil {
		return nil, fmt.Errorf("assetindex: query package keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("assetindex: scan package key: %w", err)
		}
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MappingsForGroups returns m_asset_package_mapping rows for the given
// package group keys, paging the IN-list in batches of at most
// batchSize (Reconcile passes 500, per spec.md §4.5).
func (idx *Index) MappingsForGroups(ctx context.Context, groupKeys []string, batchSize int) ([]PackageMapping, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var out []PackageMapping
	for start := 0; start < len(groupKeys); start += batchSize {
		end := start + batchSize
		if end > len(groupKeys) {
			end = len(groupKeys)
		}
		batch := groupKeys[start:end]
		rows, err := idx.queryMappings(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (idx *Index) queryMappings(ctx context.Context, keys []string) ([]PackageMapping, error) {
	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		placeholders[i] = "?"
		args[i] = k
	}
	query := fmt.Sprintf(
		`SELECT pack_name, package_key, file_size, metapack_name, metapack_offset
		 FROM m_asset_package_mapping WHERE package_key IN (%s)`,
		strings.Join(placeholders, ","),
	)
	rows, err := idx.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("assetindex: query mappings: %w", err)
	}
	defer rows.Close()

	var out []PackageMapping
	for rows.Next() {
		var m PackageMapping
		if err := rows.Scan(&m.PackName, &m.PackageKey, &m.FileSize, &m.MetapackName, &m.MetapackOffset); err != nil {
			return nil, fmt.Errorf("assetindex: scan mapping: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MetapackSplits returns the rows for a single metapack_name ordered by
// (metapack_name, metapack_offset), the shape the plan synthesizer groups
// into one Meta task's split list.
func (idx *Index) MetapackSplits(ctx context.Context, metapackName string) ([]PackageMapping, error) {
	rows, err := idx.db.Query(ctx,
		`SELECT pack_name, package_key, file_size, metapack_name, metapack_offset
		 FROM m_asset_package_mapping
		 WHERE metapack_name = ?
		 ORDER BY metapack_name, metapack_offset`,
		metapackName,
	)
	if err != nil {
		return nil, fmt.Errorf("assetindex: query metapack splits: %w", err)
	}
	defer rows.Close()

	var out []PackageMapping
	for rows.Next() {
		var m PackageMapping
		if err := rows.Scan(&m.PackName, &m.PackageKey, &m.FileSize, &m.MetapackName, &m.MetapackOffset); err != nil {
			return nil, fmt.Errorf("assetindex: scan split: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AllPackNames returns every pack_name known to m_asset_package_mapping,
// the full referenced set a garbage collection pass diffs the local cache
// against to find unreferenced packages.
func (idx *Index) AllPackNames(ctx context.Context) ([]string, error) {
	rows, err := idx.db.Query(ctx, `SELECT pack_name FROM m_asset_package_mapping`)
	if err != nil {
		return nil, fmt.Errorf("assetindex: query all pack names: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("assetindex: scan pack name: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GroupsLike resolves a LIKE-style wildcard pattern against package groups
// in m_asset_package, for "all groups" / wildcard requests.
func (idx *Index) GroupsLike(ctx context.Context, pattern string) ([]string, error) {
	rows, err := idx.db.Query(ctx, `SELECT package_key FROM m_asset_package WHERE package_key LIKE ?`, pattern)
	if err != nil {
		return nil, fmt.Errorf("assetindex: query groups like %q: %w", pattern, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("assetindex: scan group: %w", err)
		}
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

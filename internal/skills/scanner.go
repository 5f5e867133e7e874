package skills

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ScanRoot lists the skills directly beneath root. Each immediate
// subdirectory holding exactly one recognized document becomes an entry.
// A missing or unreadable root yields an empty snapshot with a note.
func ScanRoot(root Root) Snapshot {
	snap := Snapshot{Root: root}
	dir := strings.TrimSpace(root.Path)
	if dir == "" {
		snap.Notes = append(snap.Notes, Note{Kind: NoteRootUnavailable, RootID: root.ID, Message: "empty root path"})
		return snap
	}
	dir = filepath.Clean(dir)

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		msg := err.Error()
		if os.IsNotExist(err) {
			msg = "root does not exist"
		}
		snap.Notes = append(snap.Notes, Note{Kind: NoteRootUnavailable, RootID: root.ID, Path: dir, Message: msg})
		return snap
	}

	for _, de := range dirEntries {
		name := de.Name()
		if name == "" || strings.HasPrefix(name, ".") {
			continue
		}
		skillDir := filepath.Join(dir, name)
		if !isDir(de, skillDir) {
			continue
		}
		if ignored(root.Ignore, name) {
			continue
		}
		entry, note, ok := scanSkillDir(root, skillDir, name)
		if note != nil {
			snap.Notes = append(snap.Notes, *note)
		}
		if ok {
			snap.Entries = append(snap.Entries, entry)
		}
	}

	sort.SliceStable(snap.Entries, func(i, j int) bool {
		return snap.Entries[i].Name < snap.Entries[j].Name
	})
	return snap
}

func scanSkillDir(root Root, skillDir, dirName string) (Entry, *Note, bool) {
	files, err := os.ReadDir(skillDir)
	if err != nil {
		return Entry{}, &Note{Kind: NoteEntryUnreadable, RootID: root.ID, Path: skillDir, Message: err.Error()}, false
	}

	var docs []os.DirEntry
	for _, f := range files {
		if f.IsDir() || !strings.EqualFold(f.Name(), SkillFile) {
			continue
		}
		docs = append(docs, f)
	}
	switch len(docs) {
	case 0:
		return Entry{}, nil, false
	case 1:
	default:
		names := make([]string, 0, len(docs))
		for _, d := range docs {
			names = append(names, d.Name())
		}
		return Entry{}, &Note{
			Kind:    NoteAmbiguous,
			RootID:  root.ID,
			Path:    skillDir,
			Message: fmt.Sprintf("multiple skill documents: %s", strings.Join(names, ", ")),
		}, false
	}

	docPath := filepath.Join(skillDir, docs[0].Name())
	info, err := os.Stat(docPath)
	if err != nil {
		return Entry{}, &Note{Kind: NoteEntryUnreadable, RootID: root.ID, Path: docPath, Message: err.Error()}, false
	}
	data, err := os.ReadFile(docPath)
	if err != nil {
		return Entry{}, &Note{Kind: NoteEntryUnreadable, RootID: root.ID, Path: docPath, Message: err.Error()}, false
	}

	return Entry{
		Name:    root.Normalize(dirName),
		RootID:  root.ID,
		RelPath: filepath.ToSlash(filepath.Join(dirName, docs[0].Name())),
		Path:    docPath,
		Size:    int64(len(data)),
		ModTime: info.ModTime(),
		Hash:    HashBytes(data),
	}, nil, true
}

// HashBytes returns the hex sha256 digest used as an entry's content hash.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func isDir(de os.DirEntry, path string) bool {
	if de.IsDir() {
		return true
	}
	if de.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func ignored(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

package stocktag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gabriel-vasile/mimetype"
	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"
)

// Find returns the files at or below paths, in a stable order.
// Dot-files and dot-directories are skipped.
func Find(paths ...string) ([]ImageItem, error) {
	found := []ImageItem{}

	for _, root := range paths {
		st, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("stat: %w", err)
		}

		if !st.IsDir() {
			found = append(found, ImageItem{Name: filepath.Base(root), Path: root})
			continue
		}

		var is []ImageItem
		err = godirwalk.Walk(root, &godirwalk.Options{
			Callback: func(path string, de *godirwalk.Dirent) error {
				if path != root && filepath.Base(path)[0] == '.' {
					if de.IsDir() {
						return godirwalk.SkipThis
					}
					return nil
				}
				if !de.IsRegular() {
					return nil
				}
				klog.V(1).Infof("found %s", path)
				is = append(is, ImageItem{Name: filepath.Base(path), Path: path})
				return nil
			},
			Unsorted: true,
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}

		sort.Slice(is, func(i, j int) bool {
			return is[i].Path < is[j].Path
		})
		found = append(found, is...)
	}

	return found, nil
}

// detectMIME sniffs the content type of an item, preferring its bytes over the caller's claim.
func detectMIME(i ImageItem) (string, error) {
	if i.Data != nil {
		return mimetype.Detect(i.Data).String(), nil
	}
	if i.Path == "" {
		return i.MIMEType, nil
	}
	m, err := mimetype.DetectFile(i.Path)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

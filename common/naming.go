package common

import (
	"fmt"
	"regexp"
)

// AssetExtension is the extension of the downloaded files
const AssetExtension = "tif"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// AssetFileName returns the name of the file of a downloaded asset: <displayID>.tif
// Characters that are not safe in a file name are replaced by '_'
func AssetFileName(displayID string) string {
	return fmt.Sprintf("%s.%s", unsafeChars.ReplaceAllString(displayID, "_"), AssetExtension)
}

// AssetDisplayID returns the first non-empty display id, or the download id
func AssetDisplayID(downloadID string, displayIDs ...string) string {
	for _, id := range displayIDs {
		if id != "" {
			return id
		}
	}
	return downloadID
}

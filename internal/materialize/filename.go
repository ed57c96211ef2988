package materialize

import (
	"mime"
	"path"
	"regexp"
	"strings"
)

var (
	quotedFilename = regexp.MustCompile(`filename="([^"]+)"`)
	unsafeRunes    = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// ResolveFilename picks the name a payload is saved under. The server's
// Content-Disposition wins; otherwise the title is sanitized and given a
// .zip extension.
func ResolveFilename(contentDisposition, title string) string {
	if name := dispositionFilename(contentDisposition); name != "" {
		return name
	}
	return unsafeRunes.ReplaceAllString(title, "_") + ".zip"
}

func dispositionFilename(cd string) string {
	if cd == "" {
		return ""
	}

	var name string
	if _, params, err := mime.ParseMediaType(cd); err == nil {
		name = params["filename"]
	}
	if name == "" {
		if m := quotedFilename.FindStringSubmatch(cd); m != nil {
			name = m[1]
		}
	}

	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

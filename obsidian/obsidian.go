// Package obsidian handles drawings that live inside an Obsidian vault under
// the Excalidraw plugin's management.
//
// Vault files are markdown documents: YAML front-matter, human-readable
// sections, and the scene JSON lz-string-compressed inside a fenced
// `compressed-json` block. The vault manages its own versioning, so the
// backup ring never runs for these paths.
package obsidian

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	lzstring "github.com/daku10/go-lz-string"
)

// IsVaultPath reports whether a file path is under Obsidian plugin
// management. The convention is purely path-based: an "obsidian" directory
// segment (case-insensitive) somewhere in the path, and a filename ending in
// .excalidraw or .excalidraw.md. A .json file inside a vault is a plain file.
func IsVaultPath(path string) bool {
	hasSegment := false
	dir := filepath.ToSlash(filepath.Dir(path))
	for _, seg := range strings.Split(dir, "/") {
		if strings.EqualFold(seg, "obsidian") {
			hasSegment = true
			break
		}
	}
	if !hasSegment {
		return false
	}
	name := strings.ToLower(filepath.Base(path))
	return strings.HasSuffix(name, ".excalidraw") || strings.HasSuffix(name, ".excalidraw.md")
}

// TargetPath rewrites the save target to the plugin's markdown extension.
// A bare .excalidraw path becomes .excalidraw.md; anything already .md is
// returned unchanged.
func TargetPath(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".excalidraw") {
		return path + ".md"
	}
	return path
}

// fencedBlock matches the drawing block: a compressed-json or json fence and
// everything up to the closing fence. (?s) so the payload may span lines.
var fencedBlock = regexp.MustCompile("(?s)```(compressed-json|json)\\s*\n(.*?)```")

// template is the document written for a brand-new vault file. Front-matter
// first so the plugin recognises the file, then the sections it expects.
const template = `---
excalidraw-plugin: parsed
tags: [excalidraw]
---

# Text Elements

# Drawing
` + "```compressed-json\n%s\n```\n"

// Embed writes sceneJSON into a vault document. With no existing content a
// fresh template is produced. With existing content only the fenced drawing
// block is replaced: front-matter custom fields, notes, and any other
// sections the user added are preserved byte-for-byte.
func Embed(existing []byte, sceneJSON []byte) ([]byte, error) {
	compressed, err := lzstring.CompressToBase64(string(sceneJSON))
	if err != nil {
		return nil, fmt.Errorf("obsidian: compress: %w", err)
	}

	if len(existing) == 0 {
		return []byte(fmt.Sprintf(template, compressed)), nil
	}

	loc := fencedBlock.FindIndex(existing)
	if loc == nil {
		// No drawing block yet (e.g. a hand-created note). Append one.
		doc := string(existing)
		if !strings.HasSuffix(doc, "\n") {
			doc += "\n"
		}
		doc += "\n# Drawing\n```compressed-json\n" + compressed + "\n```\n"
		return []byte(doc), nil
	}

	replacement := "```compressed-json\n" + compressed + "\n```"
	out := string(existing[:loc[0]]) + replacement + string(existing[loc[1]:])
	return []byte(out), nil
}

// Extract pulls the scene JSON out of a vault document.
//
// The payload may be lz-string base64 or raw JSON (the plugin writes
// uncompressed when configured to), and third-party writers re-wrap long
// base64 lines, so all whitespace is stripped before decompression.
func Extract(content []byte) ([]byte, error) {
	m := fencedBlock.FindSubmatch(content)
	if m == nil {
		return nil, fmt.Errorf("obsidian: no drawing block found")
	}
	payload := strings.TrimSpace(string(m[2]))
	if payload == "" {
		return nil, fmt.Errorf("obsidian: drawing block is empty")
	}

	// Raw JSON inside the fence.
	if strings.HasPrefix(payload, "{") {
		return []byte(payload), nil
	}

	compact := strings.Join(strings.Fields(payload), "")
	decompressed, err := lzstring.DecompressFromBase64(compact)
	if err != nil {
		return nil, fmt.Errorf("obsidian: decompress: %w", err)
	}
	if decompressed == "" {
		return nil, fmt.Errorf("obsidian: decompress: empty result")
	}
	return []byte(decompressed), nil
}

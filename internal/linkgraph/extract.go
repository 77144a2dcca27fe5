package linkgraph

import (
	"regexp"

	"github.com/untoldecay/kira/internal/types"
)

// fieldTypes maps front-matter link arrays to their edge type.
var fieldTypes = map[string]types.LinkType{
	"relates_to": types.LinkRelatesTo,
	"depends_on": types.LinkDependsOn,
	"blocks":     types.LinkBlocks,
	"child_of":   types.LinkChildOf,
	"part_of":    types.LinkPartOf,
	"references": types.LinkReferences,
	"mentions":   types.LinkMentions,
	"links_to":   types.LinkLinksTo,
	"follows":    types.LinkFollows,
	"precedes":   types.LinkPrecedes,
}

var (
	wikiLinkPattern = regexp.MustCompile(`\[\[([a-z]+-\d{8}-\d{4}-[a-z0-9-]+)\]\]`)
	atRefPattern    = regexp.MustCompile(`(^|\s)@([a-z]+-\d{8}-\d{4}-[a-z0-9-]+)`)
)

// ExtractLinks collects the outgoing edges an entity declares: typed
// front-matter arrays, tags (tagged_with), wiki links ([[id]] -> links_to),
// and @-references (-> mentions) in the body.
func ExtractLinks(sourceID string, fm map[string]any, content string) []types.Link {
	var links []types.Link
	seen := make(map[types.Link]bool)

	add := func(l types.Link) {
		if l.TargetID == "" || l.TargetID == sourceID {
			return
		}
		key := types.Link{SourceID: l.SourceID, TargetID: l.TargetID, Type: l.Type}
		if seen[key] {
			return
		}
		seen[key] = true
		links = append(links, l)
	}

	for field, linkType := range fieldTypes {
		for _, target := range types.StringsField(fm, field) {
			add(types.Link{SourceID: sourceID, TargetID: target, Type: linkType, Context: field})
		}
	}

	for _, tag := range types.StringsField(fm, "tags") {
		add(types.Link{SourceID: sourceID, TargetID: tag, Type: types.LinkTaggedWith, Context: "tags"})
	}

	for _, m := range wikiLinkPattern.FindAllStringSubmatch(content, -1) {
		add(types.Link{SourceID: sourceID, TargetID: m[1], Type: types.LinkLinksTo, Context: "content"})
	}
	for _, m := range atRefPattern.FindAllStringSubmatch(content, -1) {
		add(types.Link{SourceID: sourceID, TargetID: m[2], Type: types.LinkMentions, Context: "content"})
	}

	return links
}

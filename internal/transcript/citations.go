package transcript

import (
	"regexp"
	"strings"
	"sync"
)

// Citation is one source referenced by the assistant's answer. Index
// is 1-based and stable for the lifetime of the registry.
type Citation struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Excerpt string `json:"excerpt,omitempty"`
}

// Citations assigns stable indices to sources, deduplicated by URL.
// Re-adding a known URL returns its original index, so re-parsing a
// growing answer never renumbers earlier citations.
type Citations struct {
	mu      sync.Mutex
	byURL   map[string]int
	ordered []Citation
}

func NewCitations() *Citations {
	return &Citations{byURL: map[string]int{}}
}

// Add registers a source and returns its 1-based index. The first
// title seen for a URL wins.
func (c *Citations) Add(title, url string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.add(title, url, "")
}

func (c *Citations) add(title, url, excerpt string) int {
	url = strings.TrimSpace(url)
	if url == "" {
		return 0
	}
	if index, ok := c.byURL[url]; ok {
		return index
	}
	index := len(c.ordered) + 1
	c.byURL[url] = index
	c.ordered = append(c.ordered, Citation{
		Index:   index,
		Title:   strings.TrimSpace(title),
		URL:     url,
		Excerpt: excerpt,
	})
	return index
}

func (c *Citations) AddAll(citations []Citation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cit := range citations {
		c.add(cit.Title, cit.URL, cit.Excerpt)
	}
}

// SetExcerpt backfills a source's excerpt, typically from the search
// result that surfaced the URL. A non-empty excerpt is kept.
func (c *Citations) SetExcerpt(url, excerpt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	index, ok := c.byURL[strings.TrimSpace(url)]
	if !ok || excerpt == "" {
		return
	}
	if c.ordered[index-1].Excerpt == "" {
		c.ordered[index-1].Excerpt = excerpt
	}
}

func (c *Citations) ByIndex(index int) (Citation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 1 || index > len(c.ordered) {
		return Citation{}, false
	}
	return c.ordered[index-1], true
}

// All returns citations in index order.
func (c *Citations) All() []Citation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Citation, len(c.ordered))
	copy(out, c.ordered)
	return out
}

func (c *Citations) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ordered)
}

func (c *Citations) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byURL = map[string]int{}
	c.ordered = nil
}

var (
	sourcesSection = regexp.MustCompile(`(?is)##\s*Sources\s*\n(.*?)(?:\n##|$)`)
	sourceLine     = regexp.MustCompile(`\[(\d+)\]\s*([^-\n]+)\s*-\s*(https?://\S+)`)
)

// ParseText scans assistant text for a "## Sources" section and
// registers every listed source. Numbers in the text are the model's;
// the registry keeps its own stable numbering.
func (c *Citations) ParseText(text string) {
	match := sourcesSection.FindStringSubmatch(text)
	if match == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range sourceLine.FindAllStringSubmatch(match[1], -1) {
		c.add(line[2], line[3], "")
	}
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/pdiddy/mcq-forge/internal/httputil"
	"github.com/pdiddy/mcq-forge/pkg/types"
)

// eutilsBase is the NCBI E-utilities endpoint. Declared as a var so tests
// can substitute an httptest server.
var eutilsBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

const (
	// NCBI allows 3 req/s without an API key, 10 with one.
	defaultRate      = 3.0
	keyedRate        = 10.0
	defaultCacheTTL  = 15 * time.Minute
	defaultUserAgent = "mcq-forge/0.1"
	defaultTimeout   = 30 * time.Second
)

// PubMedClient fetches article metadata and abstracts from PubMed.
// Requests are rate limited client-side and fetched articles are cached in
// memory so repeated pipeline runs over the same PMID stay cheap.
type PubMedClient struct {
	client    *http.Client
	limiter   *rate.Limiter
	cache     *gocache.Cache
	apiKey    string
	userAgent string
}

// NewPubMedClient builds a client from ingestion config.
func NewPubMedClient(cfg types.IngestConfig) *PubMedClient {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRate
		if cfg.NCBIAPIKey != "" {
			rps = keyedRate
		}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return &PubMedClient{
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		cache:     gocache.New(ttl, 2*ttl),
		apiKey:    cfg.NCBIAPIKey,
		userAgent: ua,
	}
}

// esearchResponse is the JSON envelope from esearch.fcgi.
type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// Search runs a keyword query against PubMed and returns matching PMIDs in
// relevance order.
func (c *PubMedClient) Search(ctx context.Context, term string, maxResults int) ([]string, error) {
	if strings.TrimSpace(term) == "" {
		return nil, fmt.Errorf("empty search term")
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	params := url.Values{
		"db":      {"pubmed"},
		"term":    {term},
		"retmax":  {strconv.Itoa(maxResults)},
		"retmode": {"json"},
		"sort":    {"relevance"},
	}
	body, err := c.get(ctx, eutilsBase+"/esearch.fcgi", params)
	if err != nil {
		return nil, err
	}

	var resp esearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing esearch response: %w", err)
	}
	return resp.Result.IDList, nil
}

// efetch XML shapes, trimmed to the fields the pipeline uses.
type pubmedArticleSet struct {
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	Citation struct {
		PMID    string `xml:"PMID"`
		Article struct {
			Title    string `xml:"ArticleTitle"`
			Abstract struct {
				Sections []abstractSection `xml:"AbstractText"`
			} `xml:"Abstract"`
			Authors []struct {
				LastName string `xml:"LastName"`
				Initials string `xml:"Initials"`
			} `xml:"AuthorList>Author"`
			Journal struct {
				PubDate struct {
					Year string `xml:"Year"`
				} `xml:"JournalIssue>PubDate"`
			} `xml:"Journal"`
		} `xml:"Article"`
	} `xml:"MedlineCitation"`
}

type abstractSection struct {
	Label string `xml:"Label,attr"`
	Text  string `xml:",chardata"`
}

// Fetch retrieves one article by PMID and returns it as a Source with
// ID "PMID:<pmid>". Articles without an abstract are a NotFoundError: there
// is no text to extract from.
func (c *PubMedClient) Fetch(ctx context.Context, pmid string) (*types.Source, error) {
	pmid = strings.TrimPrefix(strings.TrimSpace(pmid), "PMID:")
	if pmid == "" {
		return nil, fmt.Errorf("empty pmid")
	}

	if cached, found := c.cache.Get(pmid); found {
		src := cached.(types.Source)
		return &src, nil
	}

	params := url.Values{
		"db":      {"pubmed"},
		"id":      {pmid},
		"retmode": {"xml"},
	}
	body, err := c.get(ctx, eutilsBase+"/efetch.fcgi", params)
	if err != nil {
		return nil, err
	}

	var set pubmedArticleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parsing efetch response: %w", err)
	}
	if len(set.Articles) == 0 {
		return nil, &NotFoundError{ID: "PMID:" + pmid}
	}

	art := set.Articles[0]
	abstract := joinAbstract(art.Citation.Article.Abstract.Sections)
	if abstract == "" {
		return nil, &NotFoundError{ID: "PMID:" + pmid}
	}

	src := types.Source{
		ID:        "PMID:" + pmid,
		Type:      types.SourcePubMed,
		Title:     strings.TrimSpace(art.Citation.Article.Title),
		Text:      abstract,
		CreatedAt: time.Now().UTC(),
	}
	for _, a := range art.Citation.Article.Authors {
		name := strings.TrimSpace(a.LastName + " " + a.Initials)
		if name != "" {
			src.Authors = append(src.Authors, name)
		}
	}
	if y, err := strconv.Atoi(art.Citation.Article.Journal.PubDate.Year); err == nil {
		src.Year = y
	}

	c.cache.SetDefault(pmid, src)
	return &src, nil
}

// joinAbstract flattens labeled abstract sections into one text block,
// keeping labels like "METHODS:" where PubMed supplies them.
func joinAbstract(sections []abstractSection) string {
	var parts []string
	for _, s := range sections {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if s.Label != "" {
			text = s.Label + ": " + text
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n")
}

// get performs one rate-limited E-utilities request.
func (c *PubMedClient) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	full := endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := httputil.DoWithRetry(ctx, c.client, req, 0)
	if err != nil {
		return nil, &FetchError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: endpoint, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: endpoint, Err: err}
	}
	return body, nil
}

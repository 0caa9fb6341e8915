// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pdiddy/mcq-forge/pkg/types"
)

const sampleEfetchXML = `<?xml version="1.0"?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>12345678</PMID>
      <Article>
        <Journal>
          <JournalIssue>
            <PubDate><Year>2019</Year></PubDate>
          </JournalIssue>
        </Journal>
        <ArticleTitle>Metformin in type 2 diabetes</ArticleTitle>
        <Abstract>
          <AbstractText Label="BACKGROUND">Metformin is first-line therapy for type 2 diabetes mellitus.</AbstractText>
          <AbstractText Label="MECHANISM">It reduces hepatic glucose production.</AbstractText>
        </Abstract>
        <AuthorList>
          <Author><LastName>Smith</LastName><Initials>J</Initials></Author>
          <Author><LastName>Doe</LastName><Initials>A</Initials></Author>
        </AuthorList>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
</PubmedArticleSet>`

func testServer(t *testing.T, handler http.HandlerFunc) *PubMedClient {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	old := eutilsBase
	eutilsBase = ts.URL
	t.Cleanup(func() { eutilsBase = old })

	// High client-side rate so tests do not sleep.
	return NewPubMedClient(types.IngestConfig{RequestsPerSecond: 1000})
}

func TestSearch(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/esearch.fcgi") {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("term"); got != "metformin diabetes" {
			t.Errorf("term = %q", got)
		}
		fmt.Fprint(w, `{"esearchresult": {"idlist": ["12345678", "87654321"]}}`)
	})

	ids, err := c.Search(context.Background(), "metformin diabetes", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "12345678" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestSearchEmptyTerm(t *testing.T) {
	c := NewPubMedClient(types.IngestConfig{})
	if _, err := c.Search(context.Background(), "  ", 10); err == nil {
		t.Fatal("expected error for empty term")
	}
}

func TestFetch(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleEfetchXML)
	})

	src, err := c.Fetch(context.Background(), "PMID:12345678")
	if err != nil {
		t.Fatal(err)
	}

	if src.ID != "PMID:12345678" {
		t.Errorf("id = %q", src.ID)
	}
	if src.Type != types.SourcePubMed {
		t.Errorf("type = %q", src.Type)
	}
	if src.Title != "Metformin in type 2 diabetes" {
		t.Errorf("title = %q", src.Title)
	}
	if src.Year != 2019 {
		t.Errorf("year = %d", src.Year)
	}
	if len(src.Authors) != 2 || src.Authors[0] != "Smith J" {
		t.Errorf("authors = %v", src.Authors)
	}
	if !strings.Contains(src.Text, "BACKGROUND: Metformin is first-line therapy") {
		t.Errorf("text = %q", src.Text)
	}
	if !strings.Contains(src.Text, "hepatic glucose production") {
		t.Errorf("text = %q", src.Text)
	}
}

func TestFetchCaches(t *testing.T) {
	var calls int32
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, sampleEfetchXML)
	})

	for i := 0; i < 3; i++ {
		if _, err := c.Fetch(context.Background(), "12345678"); err != nil {
			t.Fatal(err)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("calls = %d, want 1 (cache miss only once)", n)
	}
}

func TestFetchNotFound(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?><PubmedArticleSet></PubmedArticleSet>`)
	})

	_, err := c.Fetch(context.Background(), "99999999")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestFetchHTTPError(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Fetch(context.Background(), "12345678")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
}

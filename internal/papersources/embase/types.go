package embase

import "encoding/json"

// searchResponse is the top-level Elsevier Embase search API response.
type searchResponse struct {
	SearchResults searchResults `json:"search-results"`
}

type searchResults struct {
	TotalResults string  `json:"opensearch:totalResults"`
	Entries      []entry `json:"entry"`
}

// entry is a single record in the Embase search results.
type entry struct {
	Identifier      string   `json:"dc:identifier"` // "MEDLINE:12345678" or "EMBASE:..."
	EID             string   `json:"eid"`
	Title           string   `json:"dc:title"`
	Creators        creators `json:"dc:creator"`
	Description     string   `json:"dc:description"` // abstract
	PublicationName string   `json:"prism:publicationName"`
	CoverDate       string   `json:"prism:coverDate"` // "2024-01-15"
	Volume          string   `json:"prism:volume"`
	IssueID         string   `json:"prism:issueIdentifier"`
	PageRange       string   `json:"prism:pageRange"`
	DOI             string   `json:"prism:doi"`
	ISSN            string   `json:"prism:issn"`
	EISSN           string   `json:"prism:eIssn"`
	URL             string   `json:"prism:url"`
	SubType         string   `json:"subtypeDescription"`
	Links           []link   `json:"link"`
}

type link struct {
	Ref  string `json:"@ref"`
	Href string `json:"@href"`
}

// creators tolerates the three shapes the API uses for dc:creator: a plain
// string, a list of strings, or a list of {"$": "..."} objects.
type creators []string

func (c *creators) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single != "" {
			*c = creators{single}
		}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*c = creators(many)
		return nil
	}

	var wrapped []struct {
		Value string `json:"$"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	for _, w := range wrapped {
		if w.Value != "" {
			*c = append(*c, w.Value)
		}
	}
	return nil
}

package pubmed

import "encoding/xml"

// esearchResponse is the JSON envelope returned by the esearch endpoint.
type esearchResponse struct {
	Result esearchResult `json:"esearchresult"`
}

type esearchResult struct {
	Count  string   `json:"count"`
	IDList []string `json:"idlist"`
}

// fetchResponse is the XML document returned by the efetch endpoint.
type fetchResponse struct {
	XMLName  xml.Name        `xml:"PubmedArticleSet"`
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	MedlineCitation medlineCitation `xml:"MedlineCitation"`
	PubmedData      pubmedData      `xml:"PubmedData"`
}

type medlineCitation struct {
	PMID               string             `xml:"PMID"`
	Article            articleRecord      `xml:"Article"`
	MeshHeadings       []meshHeading      `xml:"MeshHeadingList>MeshHeading"`
	KeywordLists       []keywordList      `xml:"KeywordList"`
	MedlineJournalInfo medlineJournalInfo `xml:"MedlineJournalInfo"`
}

type articleRecord struct {
	Title            string         `xml:"ArticleTitle"`
	AbstractTexts    []abstractText `xml:"Abstract>AbstractText"`
	Authors          []author       `xml:"AuthorList>Author"`
	Journal          journal        `xml:"Journal"`
	Pagination       string         `xml:"Pagination>MedlinePgn"`
	Languages        []string       `xml:"Language"`
	PublicationTypes []string       `xml:"PublicationTypeList>PublicationType"`
	ELocationIDs     []eLocationID  `xml:"ELocationID"`
}

type abstractText struct {
	Label string `xml:"Label,attr"`
	Text  string `xml:",chardata"`
}

type author struct {
	LastName       string            `xml:"LastName"`
	ForeName       string            `xml:"ForeName"`
	Initials       string            `xml:"Initials"`
	CollectiveName string            `xml:"CollectiveName"`
	Affiliations   []affiliationInfo `xml:"AffiliationInfo"`
}

type affiliationInfo struct {
	Affiliation string `xml:"Affiliation"`
}

type journal struct {
	ISSNs        []issnEntry  `xml:"ISSN"`
	Title        string       `xml:"Title"`
	JournalIssue journalIssue `xml:"JournalIssue"`
}

type issnEntry struct {
	Type  string `xml:"IssnType,attr"`
	Value string `xml:",chardata"`
}

type journalIssue struct {
	Volume  string  `xml:"Volume"`
	Issue   string  `xml:"Issue"`
	PubDate pubDate `xml:"PubDate"`
}

type pubDate struct {
	Year        string `xml:"Year"`
	MedlineDate string `xml:"MedlineDate"`
}

type meshHeading struct {
	DescriptorName string `xml:"DescriptorName"`
}

type keywordList struct {
	Keywords []string `xml:"Keyword"`
}

type medlineJournalInfo struct {
	ISSNLinking string `xml:"ISSNLinking"`
}

type eLocationID struct {
	Type  string `xml:"EIdType,attr"`
	Value string `xml:",chardata"`
}

type pubmedData struct {
	ArticleIDs []articleID `xml:"ArticleIdList>ArticleId"`
}

type articleID struct {
	Type  string `xml:"IdType,attr"`
	Value string `xml:",chardata"`
}

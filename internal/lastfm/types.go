package lastfm

// topTag is one entry of artist.getTopTags. Count is the tag's weight
// relative to the artist's most used tag, from 0 to 100.
type topTag struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type topTagsResponse struct {
	TopTags struct {
		Tags []topTag `json:"tag"`
	} `json:"toptags"`
}

// apiError is the body Last.fm returns alongside a failed call.
type apiError struct {
	Code    int    `json:"error"`
	Message string `json:"message"`
}

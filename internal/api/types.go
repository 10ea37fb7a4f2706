package api

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreateItemRequest struct {
	URI string `json:"uri"`
}

type CreateItemResponse struct {
	AssetID uint64 `json:"assetId"`
	Owner   string `json:"owner"`
	URI     string `json:"uri"`
}

type ListItemRequest struct {
	// Price is a decimal string, e.g. "100" or "99.5".
	Price string `json:"price"`
}

type BidRequest struct {
	Amount string `json:"amount"`
}

type ListingDTO struct {
	AssetID uint64 `json:"assetId"`
	Seller  string `json:"seller"`
	Price   string `json:"price"`
}

type AuctionDTO struct {
	AssetID    uint64 `json:"assetId"`
	Seller     string `json:"seller"`
	StartTime  int64  `json:"startTime"`
	EndsAt     int64  `json:"endsAt"`
	CurrentBid string `json:"currentBid"`
	Bidder     string `json:"bidder,omitempty"`
	BidsCount  uint64 `json:"bidsCount"`
}

type ConfigDTO struct {
	Owner              string `json:"owner"`
	AuctionDurationSec int64  `json:"auctionDurationSec"`
	MinBids            uint64 `json:"minBids"`
}

type SetDurationRequest struct {
	Seconds int64 `json:"seconds"`
}

type SetMinBidsRequest struct {
	Count uint64 `json:"count"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

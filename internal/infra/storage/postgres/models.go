package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/qrcoast/linkdrop/internal/claim"
)

// claimRow maps the link_visit_claims table. A row with a nil ClaimedAt is
// a recorded link visit that has not been claimed yet.
type claimRow struct {
	bun.BaseModel `bun:"table:link_visit_claims,alias:lvc"`

	ID              int64      `bun:"id,pk,autoincrement"`
	FID             int64      `bun:"fid,notnull"`
	EthAddress      string     `bun:"eth_address,notnull"`
	AuctionID       string     `bun:"auction_id,notnull"`
	Username        *string    `bun:"username"`
	UserID          *string    `bun:"user_id"`
	WinningURL      string     `bun:"winning_url"`
	Source          string     `bun:"claim_source,notnull"`
	Amount          int64      `bun:"amount"`
	TxHash          *string    `bun:"tx_hash"`
	ClaimedAt       *time.Time `bun:"claimed_at"`
	LinkVisitedAt   *time.Time `bun:"link_visited_at"`
	ClientIP        string     `bun:"client_ip"`
	NeynarUserScore *float64   `bun:"neynar_user_score"`
	SpamLabel       *bool      `bun:"spam_label"`
	MiniAppClient   *string    `bun:"mini_app_client"`
}

func (r claimRow) toDomain() claim.Record {
	return claim.Record{
		ID:              r.ID,
		FID:             r.FID,
		EthAddress:      r.EthAddress,
		AuctionID:       r.AuctionID,
		Username:        r.Username,
		UserID:          r.UserID,
		WinningURL:      r.WinningURL,
		Source:          claim.Source(r.Source),
		Amount:          r.Amount,
		TxHash:          r.TxHash,
		ClaimedAt:       r.ClaimedAt,
		LinkVisitedAt:   r.LinkVisitedAt,
		ClientIP:        r.ClientIP,
		NeynarUserScore: r.NeynarUserScore,
		SpamLabel:       r.SpamLabel,
		MiniAppClient:   r.MiniAppClient,
	}
}

func claimRowFromDomain(rec claim.Record) claimRow {
	return claimRow{
		ID:              rec.ID,
		FID:             rec.FID,
		EthAddress:      rec.EthAddress,
		AuctionID:       rec.AuctionID,
		Username:        rec.Username,
		UserID:          rec.UserID,
		WinningURL:      rec.WinningURL,
		Source:          string(rec.Source),
		Amount:          rec.Amount,
		TxHash:          rec.TxHash,
		ClaimedAt:       rec.ClaimedAt,
		LinkVisitedAt:   rec.LinkVisitedAt,
		ClientIP:        rec.ClientIP,
		NeynarUserScore: rec.NeynarUserScore,
		SpamLabel:       rec.SpamLabel,
		MiniAppClient:   rec.MiniAppClient,
	}
}

// failureRow maps the link_visit_claim_failures table.
type failureRow struct {
	bun.BaseModel `bun:"table:link_visit_claim_failures,alias:lvcf"`

	ID            int64     `bun:"id,pk,autoincrement"`
	FID           int64     `bun:"fid,notnull"`
	EthAddress    string    `bun:"eth_address,notnull"`
	AuctionID     string    `bun:"auction_id,notnull"`
	Username      *string   `bun:"username"`
	UserID        *string   `bun:"user_id"`
	WinningURL    string    `bun:"winning_url"`
	ErrorMessage  string    `bun:"error_message"`
	ErrorCode     string    `bun:"error_code,notnull"`
	TxHash        *string   `bun:"tx_hash"`
	RequestData   string    `bun:"request_data"`
	GasPrice      string    `bun:"gas_price"`
	GasLimit      string    `bun:"gas_limit"`
	NetworkStatus string    `bun:"network_status"`
	RetryCount    int       `bun:"retry_count,notnull,default:0"`
	ClientIP      string    `bun:"client_ip"`
	Source        string    `bun:"claim_source,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

func (r failureRow) toDomain() claim.Failure {
	return claim.Failure{
		ID:            r.ID,
		FID:           r.FID,
		EthAddress:    r.EthAddress,
		AuctionID:     r.AuctionID,
		Username:      r.Username,
		UserID:        r.UserID,
		WinningURL:    r.WinningURL,
		ErrorMessage:  r.ErrorMessage,
		ErrorCode:     claim.Code(r.ErrorCode),
		TxHash:        r.TxHash,
		RequestData:   r.RequestData,
		GasPrice:      r.GasPrice,
		GasLimit:      r.GasLimit,
		NetworkStatus: r.NetworkStatus,
		RetryCount:    r.RetryCount,
		ClientIP:      r.ClientIP,
		Source:        claim.Source(r.Source),
		CreatedAt:     r.CreatedAt,
	}
}

func failureRowFromDomain(f claim.Failure) failureRow {
	return failureRow{
		ID:            f.ID,
		FID:           f.FID,
		EthAddress:    f.EthAddress,
		AuctionID:     f.AuctionID,
		Username:      f.Username,
		UserID:        f.UserID,
		WinningURL:    f.WinningURL,
		ErrorMessage:  f.ErrorMessage,
		ErrorCode:     string(f.ErrorCode),
		TxHash:        f.TxHash,
		RequestData:   f.RequestData,
		GasPrice:      f.GasPrice,
		GasLimit:      f.GasLimit,
		NetworkStatus: f.NetworkStatus,
		RetryCount:    f.RetryCount,
		ClientIP:      f.ClientIP,
		Source:        string(f.Source),
	}
}

// banRow maps the banned_users table.
type banRow struct {
	bun.BaseModel `bun:"table:banned_users,alias:bu"`

	ID                    int64     `bun:"id,pk,autoincrement"`
	FID                   int64     `bun:"fid,notnull"`
	Username              *string   `bun:"username"`
	EthAddress            *string   `bun:"eth_address"`
	Reason                string    `bun:"reason"`
	AutoBanned            bool      `bun:"auto_banned,notnull,default:false"`
	TotalClaimsAttempted  int       `bun:"total_claims_attempted,notnull,default:0"`
	IPAddresses           []string  `bun:"ip_addresses,array"`
	DuplicateTransactions []string  `bun:"duplicate_transactions,array"`
	CreatedAt             time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

func (r banRow) toDomain() claim.Ban {
	return claim.Ban{
		FID:                   r.FID,
		Username:              r.Username,
		EthAddress:            r.EthAddress,
		Reason:                r.Reason,
		AutoBanned:            r.AutoBanned,
		TotalClaimsAttempted:  r.TotalClaimsAttempted,
		IPAddresses:           r.IPAddresses,
		DuplicateTransactions: r.DuplicateTransactions,
		CreatedAt:             r.CreatedAt,
	}
}

// winnerRow maps the winners table.
type winnerRow struct {
	bun.BaseModel `bun:"table:winners,alias:w"`

	ID         int64     `bun:"id,pk,autoincrement"`
	AuctionID  string    `bun:"auction_id,notnull"`
	WinningURL string    `bun:"winning_url"`
	WonAt      time.Time `bun:"won_at,notnull"`
}

// spamLabelRow maps the spam_labels table.
type spamLabelRow struct {
	bun.BaseModel `bun:"table:spam_labels,alias:sl"`

	FID        int64 `bun:"fid,pk"`
	LabelValue int   `bun:"label_value,notnull"`
}

// tierAmountRow maps the claim_amount_configs table holding the web tier
// amounts.
type tierAmountRow struct {
	bun.BaseModel `bun:"table:claim_amount_configs,alias:cac"`

	ID          int64 `bun:"id,pk,autoincrement"`
	EmptyAmount int64 `bun:"empty_wallet_amount,notnull"`
	ValueAmount int64 `bun:"value_wallet_amount,notnull"`
}

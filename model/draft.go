package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type DraftStatus string

const (
	DraftStatusUnsigned DraftStatus = "unsigned"
	DraftStatusPartial  DraftStatus = "partial"
	DraftStatusSigned   DraftStatus = "signed"
)

func (s DraftStatus) Valid() bool {
	switch s {
	case DraftStatusUnsigned, DraftStatusPartial, DraftStatusSigned:
		return true
	}
	return false
}

// 交易草稿表（drafts）
//
// UpdatedAt holds unix nanoseconds and doubles as the optimistic
// concurrency token: writers update with "WHERE id = ? AND updated_at = ?".
type Draft struct {
	ID       string  `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	WalletID string  `gorm:"column:wallet_id;type:varchar(36);not null;index" json:"walletId"`
	Wallet   *Wallet `gorm:"foreignKey:WalletID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	UserID   string  `gorm:"column:user_id;type:varchar(64);not null" json:"userId"`

	Recipient       string                      `gorm:"column:recipient;type:varchar(128);not null" json:"recipient"`
	Amount          string                      `gorm:"column:amount;type:text;not null" json:"amount"` // satoshis, decimal string
	FeeRate         float64                     `gorm:"column:fee_rate;not null" json:"feeRate"`        // sat/vB
	SelectedUTXOIDs datatypes.JSONSlice[string] `gorm:"column:selected_utxo_ids;not null" json:"selectedUtxoIds"`
	EnableRBF       bool                        `gorm:"column:enable_rbf;not null" json:"enableRbf"`
	IsRBF           bool                        `gorm:"column:is_rbf;not null;default:false" json:"isRbf"`
	ReplacesTxID    *string                     `gorm:"column:replaces_txid;type:varchar(64)" json:"replacesTxid,omitempty"`
	PSBTBase64      string                      `gorm:"column:psbt_base64;type:text;not null" json:"psbtBase64"`

	TotalInput    string                      `gorm:"column:total_input;type:text" json:"totalInput,omitempty"`
	TotalOutput   string                      `gorm:"column:total_output;type:text" json:"totalOutput,omitempty"`
	ChangeAmount  string                      `gorm:"column:change_amount;type:text" json:"changeAmount,omitempty"`
	ChangeAddress *string                     `gorm:"column:change_address;type:varchar(128)" json:"changeAddress,omitempty"`
	EffectiveFee  string                      `gorm:"column:effective_fee;type:text" json:"effectiveFee,omitempty"`
	InputPaths    datatypes.JSONSlice[string] `gorm:"column:input_paths;not null" json:"inputPaths"`

	SignedPSBTBase64 *string                     `gorm:"column:signed_psbt_base64;type:text" json:"signedPsbtBase64"`
	SignedDeviceIDs  datatypes.JSONSlice[string] `gorm:"column:signed_device_ids;not null" json:"signedDeviceIds"`
	Status           DraftStatus                 `gorm:"column:status;type:varchar(16);not null;default:unsigned;comment:unsigned,partial,signed" json:"status"`
	Label            *string                     `gorm:"column:label;type:varchar(256)" json:"label,omitempty"`
	Memo             *string                     `gorm:"column:memo;type:text" json:"memo,omitempty"`

	ExpiresAt time.Time `gorm:"column:expires_at;not null;index" json:"expiresAt"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index" json:"createdAt"`
	UpdatedAt int64     `gorm:"column:updated_at;autoUpdateTime:nano" json:"updatedAt"`
}

// BeforeCreate stores missing lists as "[]" rather than JSON null.
func (d *Draft) BeforeCreate(*gorm.DB) error {
	for _, l := range []*datatypes.JSONSlice[string]{&d.SelectedUTXOIDs, &d.InputPaths, &d.SignedDeviceIDs} {
		if *l == nil {
			*l = datatypes.JSONSlice[string]{}
		}
	}
	return nil
}

// DraftUTXOLock reserves one UTXO for one draft. The primary key on utxo_id
// is what enforces "at most one reserving draft"; the foreign key on
// draft_id cascades so deleting a draft always releases its reservations.
type DraftUTXOLock struct {
	UTXOID    string    `gorm:"primaryKey;column:utxo_id;type:varchar(36)" json:"utxoId"`
	DraftID   string    `gorm:"column:draft_id;type:varchar(36);not null;index" json:"draftId"`
	Draft     *Draft    `gorm:"foreignKey:DraftID;references:ID;constraint:OnDelete:CASCADE" json:"draft,omitempty"`
	UTXO      *UTXO     `gorm:"foreignKey:UTXOID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (DraftUTXOLock) TableName() string { return "draft_utxo_locks" }

// helper: create tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Wallet{},
		&WalletUser{},
		&UTXO{},
		&SystemSetting{},
		&Draft{},
		&DraftUTXOLock{},
	)
}

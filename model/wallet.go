package model

import (
	"time"
)

// WalletRole is a user's role on a wallet. Roles are ordered: owner > signer > viewer.
type WalletRole string

const (
	RoleOwner  WalletRole = "owner"
	RoleSigner WalletRole = "signer"
	RoleViewer WalletRole = "viewer"
)

func (r WalletRole) rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleSigner:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

// AtLeast reports whether r grants everything min grants.
func (r WalletRole) AtLeast(min WalletRole) bool {
	return r.rank() > 0 && r.rank() >= min.rank()
}

// 钱包表（wallets）
type Wallet struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Name      string    `gorm:"column:name;type:varchar(128);not null" json:"name"`
	Type      string    `gorm:"column:type;type:varchar(16);not null;default:single_sig;comment:single_sig,multi_sig" json:"type"`
	Network   string    `gorm:"column:network;type:varchar(16);not null;default:mainnet;comment:mainnet,testnet,regtest,signet" json:"network"`
	QuorumM   int       `gorm:"column:quorum_m;not null;default:1" json:"quorumM"`
	QuorumN   int       `gorm:"column:quorum_n;not null;default:1" json:"quorumN"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// 钱包成员表（wallet_users）
type WalletUser struct {
	ID        uint64     `gorm:"primaryKey;column:id" json:"id"`
	WalletID  string     `gorm:"column:wallet_id;type:varchar(36);not null;uniqueIndex:idx_wallet_user" json:"walletId"`
	UserID    string     `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:idx_wallet_user" json:"userId"`
	Role      WalletRole `gorm:"column:role;type:varchar(16);not null" json:"role"`
	Wallet    *Wallet    `gorm:"foreignKey:WalletID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// UTXO is owned by the wallet sync process; drafts only read it.
type UTXO struct {
	ID            string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	WalletID      string    `gorm:"column:wallet_id;type:varchar(36);not null;uniqueIndex:idx_utxo_outpoint,priority:1" json:"walletId"`
	TxID          string    `gorm:"column:txid;type:varchar(64);not null;uniqueIndex:idx_utxo_outpoint,priority:2" json:"txid"`
	Vout          uint32    `gorm:"column:vout;not null;uniqueIndex:idx_utxo_outpoint,priority:3" json:"vout"`
	Amount        int64     `gorm:"column:amount;not null" json:"amount"` // satoshis
	Address       string    `gorm:"column:address;type:varchar(128)" json:"address"`
	Confirmations int       `gorm:"column:confirmations;default:0" json:"confirmations"`
	Spent         bool      `gorm:"column:spent;not null;default:false;index" json:"spent"`
	Frozen        bool      `gorm:"column:frozen;not null;default:false" json:"frozen"`
	Wallet        *Wallet   `gorm:"foreignKey:WalletID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (UTXO) TableName() string { return "utxos" }

// SystemSetting is an admin-managed key/value pair.
type SystemSetting struct {
	Key       string    `gorm:"primaryKey;column:key;type:varchar(64)" json:"key"`
	Value     string    `gorm:"column:value;type:text;not null" json:"value"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

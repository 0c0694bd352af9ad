package metadata

import (
	"github.com/ethereum/go-ethereum/common"
)

// ContractMetadata is the collection-level document served at contractURI.
type ContractMetadata struct {
	Name                 string                   `json:"name"`
	Description          string                   `json:"description"`
	Image                string                   `json:"image"`
	ExternalLink         string                   `json:"external_link"`
	SellerFeeBasisPoints uint16                   `json:"seller_fee_basis_points"`
	FeeRecipient         *common.MixedcaseAddress `json:"fee_recipient,omitempty"`
}

// RoyaltyRecipient returns the fee recipient, if the document names one.
func (m *ContractMetadata) RoyaltyRecipient() (common.Address, bool) {
	if m.FeeRecipient == nil {
		return common.Address{}, false
	}
	return m.FeeRecipient.Address(), true
}

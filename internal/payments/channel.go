package payments

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/internal/ledger"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/paystack"
)

type channel struct {
	channelType   enums.ChannelType
	key           string
	accountNumber string
	bankName      string
	accountName   string
	customerCode  *string
}

// DedicatedChannelKey is the lookup key of a buyer's dedicated account. It
// is shared by every purchase the buyer makes.
func DedicatedChannelKey(accountNumber string) string {
	return "acct:" + strings.TrimSpace(accountNumber)
}

// ManualChannelKey scopes manual transfers per product since the collection
// account is shared by all buyers.
func ManualChannelKey(product *models.Product) string {
	return "manual:" + product.ID.String()
}

func (s *Service) resolveChannel(ctx context.Context, buyer *models.User, product *models.Product) (*channel, error) {
	if !s.opts.DedicatedAccounts {
		return &channel{
			channelType:   enums.ChannelTypeManualTransfer,
			key:           ManualChannelKey(product),
			accountNumber: s.opts.Manual.Number,
			bankName:      s.opts.Manual.BankName,
			accountName:   s.opts.Manual.Name,
		}, nil
	}

	if !buyer.HasDedicatedAccount() {
		provisioned, err := s.provisionDedicatedAccount(ctx, buyer)
		if err != nil {
			return nil, err
		}
		buyer = provisioned
	}
	return &channel{
		channelType:   enums.ChannelTypeDedicatedAccount,
		key:           DedicatedChannelKey(*buyer.DedicatedAccountNumber),
		accountNumber: *buyer.DedicatedAccountNumber,
		bankName:      deref(buyer.DedicatedBankName),
		accountName:   deref(buyer.DedicatedAccountName),
		customerCode:  buyer.GatewayCustomerCode,
	}, nil
}

func (s *Service) provisionDedicatedAccount(ctx context.Context, buyer *models.User) (*models.User, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()

	customerCode := deref(buyer.GatewayCustomerCode)
	if customerCode == "" {
		req := paystack.CustomerRequest{
			Email:     buyer.Email,
			FirstName: buyer.FirstName,
			LastName:  buyer.LastName,
		}
		if buyer.Phone != nil {
			req.Phone = *buyer.Phone
		}
		customer, err := s.gateway.CreateCustomer(callCtx, req)
		if err != nil {
			return nil, upstream(err, "create gateway customer")
		}
		customerCode = customer.CustomerCode
		if err := s.store.Users.SaveCustomerCode(ctx, buyer.ID, customerCode); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save customer code")
		}
	}

	account, err := s.gateway.CreateDedicatedAccount(callCtx, customerCode, s.opts.PreferredBank)
	if err != nil {
		return nil, upstream(err, "create dedicated account")
	}
	if strings.TrimSpace(account.AccountNumber) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUpstreamUnavailable, "gateway returned no account number")
	}

	if _, err := s.store.Users.SaveDedicatedAccount(ctx, buyer.ID, ledger.DedicatedAccount{
		CustomerCode:  customerCode,
		AccountNumber: account.AccountNumber,
		BankName:      account.Bank.Name,
		AccountName:   account.AccountName,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save dedicated account")
	}

	// a concurrent request may have stored its account first; the stored one wins
	reloaded, err := s.store.Users.FindByID(ctx, buyer.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "buyer not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload buyer")
	}
	if !reloaded.HasDedicatedAccount() {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "dedicated account was not persisted")
	}
	return reloaded, nil
}

func upstream(err error, op string) error {
	return pkgerrors.Wrap(pkgerrors.CodeUpstreamUnavailable, err, op).
		WithDetails(map[string]any{"gateway_failure": gatewayKind(err)})
}

func gatewayKind(err error) string {
	var gwErr *paystack.Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind.String()
	}
	return "unknown"
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

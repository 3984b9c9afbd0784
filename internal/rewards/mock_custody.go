package rewards

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/mock"

	"github.com/eigerco/trustbond/internal/common"
)

func NewCustodyMock() *CustodyMock {
	return &CustodyMock{}
}

type CustodyMock struct {
	mock.Mock
}

func (c *CustodyMock) Transfer(ctx context.Context, recipient common.Address, amount *uint256.Int, ref Reference) error {
	args := c.MethodCalled("Transfer", ctx, recipient, amount, ref)
	return args.Error(0)
}

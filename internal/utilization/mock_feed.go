package utilization

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/mock"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/epochtime"
)

func NewFeedMock() *FeedMock {
	return &FeedMock{}
}

type FeedMock struct {
	mock.Mock
}

func (f *FeedMock) SystemNetActivity(ctx context.Context, e epochtime.Epoch) (*uint256.Int, error) {
	args := f.MethodCalled("SystemNetActivity", ctx, e)
	net, _ := args.Get(0).(*uint256.Int)
	return net, args.Error(1)
}

func (f *FeedMock) PersonalNetActivity(ctx context.Context, p common.Address, e epochtime.Epoch) (*uint256.Int, error) {
	args := f.MethodCalled("PersonalNetActivity", ctx, p, e)
	net, _ := args.Get(0).(*uint256.Int)
	return net, args.Error(1)
}

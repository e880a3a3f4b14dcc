package sns

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sns.PublishOutput)
	return out, args.Error(1)
}

func TestSendSMS(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		attr := in.MessageAttributes["AWS.SNS.SMS.SMSType"]
		return aws.ToString(in.PhoneNumber) == "+84912345678" &&
			aws.ToString(in.Message) == "code 123456" &&
			aws.ToString(attr.StringValue) == "Transactional"
	})).Return(&sns.PublishOutput{}, nil)

	s := &sender{client: pub}
	assert.NoError(t, s.SendSMS(context.Background(), "+84912345678", "code 123456"))
	pub.AssertExpectations(t)
}

func TestSendSMS_Error(t *testing.T) {
	pub := new(mockPublisher)
	boom := errors.New("throttled")
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil, boom)

	s := &sender{client: pub}
	assert.ErrorIs(t, s.SendSMS(context.Background(), "+84912345678", "x"), boom)
}

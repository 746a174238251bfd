package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/kubeprovision/internal/node"
	prov "github.com/3cpo-dev/kubeprovision/internal/providers"
)

// MaxResults is the largest DescribeInstances page EC2 accepts.
const MaxResults = 1000

// Provider lists, starts and stops EC2 instances.
type Provider struct {
	Client ec2iface.EC2API
	Retry  prov.RetryConfig
}

// NewProvider wraps an existing EC2 client.
func NewProvider(client ec2iface.EC2API) *Provider {
	return &Provider{Client: client, Retry: prov.DefaultRetryConfig()}
}

// New builds an EC2 client from the configuration. Static credentials from the
// config (or secrets.env) take precedence over the SDK's default chain.
func New(cfg prov.Config) (*Provider, error) {
	awsCfg := aws.NewConfig()
	if cfg.AWS.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.AWS.Region)
	}
	if cfg.AWS.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.AWS.Endpoint)
	}
	if cfg.AWS.AccessKeyID != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(
			cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, cfg.AWS.SessionToken))
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *awsCfg,
		Profile:           cfg.AWS.Profile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	p := NewProvider(ec2.New(sess))
	if cfg.AWS.MaxRetries > 0 {
		p.Retry.MaxRetries = cfg.AWS.MaxRetries
	}
	return p, nil
}

func (p *Provider) Name() string { return "aws" }

// ListInstances returns one DescribeInstances page narrowed by filter.
func (p *Provider) ListInstances(ctx context.Context, filter node.TagFilter, token string) (prov.Page, error) {
	input := &ec2.DescribeInstancesInput{
		Filters:    []*ec2.Filter{tagFilter(filter)},
		MaxResults: aws.Int64(MaxResults),
	}
	if token != "" {
		input.NextToken = aws.String(token)
	}

	var out *ec2.DescribeInstancesOutput
	err := prov.Retry(ctx, p.Retry, "DescribeInstances", func() error {
		var err error
		out, err = p.Client.DescribeInstancesWithContext(ctx, input)
		return err
	}, retryable)
	if err != nil {
		return prov.Page{}, fmt.Errorf("describe instances: %w", err)
	}

	var page prov.Page
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			page.Instances = append(page.Instances, convert(inst))
		}
	}
	page.NextToken = aws.StringValue(out.NextToken)
	log.Debug().Int("instances", len(page.Instances)).Bool("more", page.NextToken != "").Msg("describe instances page")
	return page, nil
}

func (p *Provider) StartInstances(ctx context.Context, ids []node.ID) error {
	_, err := p.Client.StartInstancesWithContext(ctx, &ec2.StartInstancesInput{InstanceIds: instanceIDs(ids)})
	if err != nil {
		return fmt.Errorf("start instances: %w", err)
	}
	return nil
}

func (p *Provider) StopInstances(ctx context.Context, ids []node.ID) error {
	_, err := p.Client.StopInstancesWithContext(ctx, &ec2.StopInstancesInput{InstanceIds: instanceIDs(ids)})
	if err != nil {
		return fmt.Errorf("stop instances: %w", err)
	}
	return nil
}

// tagFilter maps a TagFilter onto the EC2 filter syntax: "tag:<key>" with the
// value when one is given, otherwise "tag-key".
func tagFilter(f node.TagFilter) *ec2.Filter {
	if f.Value != nil {
		return &ec2.Filter{
			Name:   aws.String(fmt.Sprintf("tag:%s", f.Key)),
			Values: []*string{aws.String(*f.Value)},
		}
	}
	return &ec2.Filter{
		Name:   aws.String("tag-key"),
		Values: []*string{aws.String(f.Key)},
	}
}

func convert(inst *ec2.Instance) prov.Instance {
	out := prov.Instance{
		ID:       aws.StringValue(inst.InstanceId),
		PublicIP: aws.StringValue(inst.PublicIpAddress),
	}
	if inst.State != nil {
		out.State = aws.StringValue(inst.State.Name)
	}
	for _, t := range inst.Tags {
		out.Tags = append(out.Tags, node.Tag{Key: aws.StringValue(t.Key), Value: aws.StringValue(t.Value)})
	}
	return out
}

func instanceIDs(ids []node.ID) []*string {
	out := make([]*string, len(ids))
	for i, id := range ids {
		out[i] = aws.String(string(id))
	}
	return out
}

func retryable(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		return request.IsErrorThrottle(aerr) || request.IsErrorRetryable(aerr)
	}
	return false
}

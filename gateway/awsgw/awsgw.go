// Package awsgw is the thin AWS adapter behind the gateway contracts.
// It maps EC2 inventory and Cost Explorer spend onto engine types and
// holds no engine logic.
package awsgw

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/shopspring/decimal"

	"github.com/tagvet/tagvet/types"
)

// resourceTypeEC2Instance is the only inventory source this adapter
// serves; other types come from other adapters behind the same contract
const resourceTypeEC2Instance = "ec2:instance"

// InventoryClient is the EC2 surface the adapter needs
type InventoryClient interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// CostClient is the Cost Explorer surface the adapter needs
type CostClient interface {
	GetCostAndUsageWithResources(ctx context.Context, params *costexplorer.GetCostAndUsageWithResourcesInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageWithResourcesOutput, error)
}

// Gateway adapts AWS APIs to the engine's gateway contracts
type Gateway struct {
	inventory InventoryClient
	cost      CostClient
	accountID string
}

// New creates a gateway from default AWS configuration
func New(ctx context.Context, accountID string) (*Gateway, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return &Gateway{
		inventory: ec2.NewFromConfig(cfg),
		cost:      costexplorer.NewFromConfig(cfg),
		accountID: accountID,
	}, nil
}

// NewWithClients creates a gateway over injected clients
func NewWithClients(inventory InventoryClient, cost CostClient, accountID string) *Gateway {
	return &Gateway{inventory: inventory, cost: cost, accountID: accountID}
}

// FetchResources lists tagged EC2 instances in one region
func (g *Gateway) FetchResources(ctx context.Context, resourceTypes []string, region string) ([]types.Resource, error) {
	if !contains(resourceTypes, resourceTypeEC2Instance) {
		return nil, nil
	}

	var resources []types.Resource
	var nextToken *string
	for {
		out, err := g.inventory.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			NextToken: nextToken,
		}, func(o *ec2.Options) { o.Region = region })
		if err != nil {
			return nil, fmt.Errorf("describe instances in %s: %w", region, err)
		}

		for _, reservation := range out.Reservations {
			for _, instance := range reservation.Instances {
				resources = append(resources, g.toResource(instance, region))
			}
		}

		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	return resources, nil
}

// FetchCosts returns per-resource monthly cost for a time window
func (g *Gateway) FetchCosts(ctx context.Context, arns []string, windowStart, windowEnd time.Time) (map[string]decimal.Decimal, error) {
	want := make(map[string]struct{}, len(arns))
	for _, arn := range arns {
		want[arn] = struct{}{}
	}

	costs := make(map[string]decimal.Decimal)
	var nextToken *string
	for {
		out, err := g.cost.GetCostAndUsageWithResources(ctx, &costexplorer.GetCostAndUsageWithResourcesInput{
			TimePeriod: &cetypes.DateInterval{
				Start: aws.String(windowStart.Format("2006-01-02")),
				End:   aws.String(windowEnd.Format("2006-01-02")),
			},
			Granularity:   cetypes.GranularityMonthly,
			Metrics:       []string{"UnblendedCost"},
			GroupBy:       []cetypes.GroupDefinition{{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("RESOURCE_ID")}},
			NextPageToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("get cost and usage: %w", err)
		}

		for _, result := range out.ResultsByTime {
			for _, group := range result.Groups {
				if len(group.Keys) == 0 {
					continue
				}
				arn := group.Keys[0]
				if _, ok := want[arn]; !ok {
					continue
				}
				metric, ok := group.Metrics["UnblendedCost"]
				if !ok || metric.Amount == nil {
					continue
				}
				amount, err := decimal.NewFromString(*metric.Amount)
				if err != nil {
					continue
				}
				costs[arn] = costs[arn].Add(amount)
			}
		}

		if out.NextPageToken == nil {
			break
		}
		nextToken = out.NextPageToken
	}
	return costs, nil
}

// toResource converts an EC2 instance to an engine resource
func (g *Gateway) toResource(instance ec2types.Instance, region string) types.Resource {
	tags := make(map[string]string, len(instance.Tags))
	for _, tag := range instance.Tags {
		if tag.Key != nil && tag.Value != nil {
			tags[*tag.Key] = *tag.Value
		}
	}

	instanceID := ""
	if instance.InstanceId != nil {
		instanceID = *instance.InstanceId
	}

	return types.Resource{
		ARN:        fmt.Sprintf("arn:aws:ec2:%s:%s:instance/%s", region, g.accountID, instanceID),
		Type:       resourceTypeEC2Instance,
		Region:     region,
		AccountID:  g.accountID,
		Tags:       tags,
		ObservedAt: time.Now().UTC(),
	}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

package aws

import (
	"context"
	"encoding/base64"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/accord-io/accord/internal/provider"
)

type instanceConfig struct {
	AMI              string            `json:"ami"`
	InstanceType     string            `json:"instanceType"`
	SubnetID         string            `json:"subnetId"`
	SecurityGroupIDs []string          `json:"securityGroupIds"`
	KeyName          string            `json:"keyName"`
	UserData         string            `json:"userData"`
	Tags             map[string]string `json:"tags"`
}

func (p *Provider) createInstance(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	var cfg instanceConfig
	if err := decode(attrs, &cfg); err != nil {
		return "", nil, err
	}

	input := &ec2.RunInstancesInput{
		ImageId:      awssdk.String(cfg.AMI),
		InstanceType: types.InstanceType(cfg.InstanceType),
		MinCount:     awssdk.Int32(1),
		MaxCount:     awssdk.Int32(1),
	}
	if cfg.SubnetID != "" {
		input.SubnetId = awssdk.String(cfg.SubnetID)
	}
	if len(cfg.SecurityGroupIDs) > 0 {
		input.SecurityGroupIds = cfg.SecurityGroupIDs
	}
	if cfg.KeyName != "" {
		input.KeyName = awssdk.String(cfg.KeyName)
	}
	if cfg.UserData != "" {
		input.UserData = awssdk.String(base64.StdEncoding.EncodeToString([]byte(cfg.UserData)))
	}
	if len(cfg.Tags) > 0 {
		var tags []types.Tag
		for k, v := range cfg.Tags {
			tags = append(tags, types.Tag{Key: awssdk.String(k), Value: awssdk.String(v)})
		}
		input.TagSpecifications = []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags:         tags,
		}}
	}

	resp, err := p.ec2Client.RunInstances(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to run instance: %w", err)
	}
	if len(resp.Instances) == 0 {
		return "", nil, fmt.Errorf("RunInstances returned no instances")
	}
	inst := resp.Instances[0]
	id := awssdk.ToString(inst.InstanceId)

	return id, instanceOutputs(id, &inst), nil
}

func (p *Provider) readInstance(ctx context.Context, id string) (map[string]any, error) {
	resp, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return nil, mapNotFound(err)
	}
	for _, reservation := range resp.Reservations {
		for _, inst := range reservation.Instances {
			if awssdk.ToString(inst.InstanceId) != id {
				continue
			}
			// A terminated instance is gone for reconciliation purposes.
			if inst.State != nil && inst.State.Name == types.InstanceStateNameTerminated {
				return nil, provider.ErrNotFound
			}
			return instanceOutputs(id, &inst), nil
		}
	}
	return nil, provider.ErrNotFound
}

func (p *Provider) updateInstance(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	var cfg instanceConfig
	if err := decode(attrs, &cfg); err != nil {
		return nil, err
	}

	if cfg.InstanceType != "" {
		_, err := p.ec2Client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
			InstanceId: awssdk.String(id),
			InstanceType: &types.AttributeValue{
				Value: awssdk.String(cfg.InstanceType),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to change instance type of %s: %w", id, mapNotFound(err))
		}
	}

	if err := p.tagResource(ctx, id, cfg.Tags); err != nil {
		return nil, err
	}

	return p.readInstance(ctx, id)
}

func (p *Provider) deleteInstance(ctx context.Context, id string) error {
	_, err := p.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{id},
	})
	return mapNotFound(err)
}

func instanceOutputs(id string, inst *types.Instance) map[string]any {
	out := map[string]any{"id": id}
	if inst.PublicIpAddress != nil {
		out["publicIp"] = awssdk.ToString(inst.PublicIpAddress)
	}
	if inst.PrivateIpAddress != nil {
		out["privateIp"] = awssdk.ToString(inst.PrivateIpAddress)
	}
	return out
}

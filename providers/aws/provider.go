// Package aws implements the AWS provider over the EC2 API. It covers
// the core networking primitives and instances; resources are created
// with tags taken from the declaration and identified by their AWS IDs.
package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/smithy-go"

	"github.com/accord-io/accord/internal/provider"
	"github.com/accord-io/accord/internal/schema"
)

func init() {
	provider.RegisterFactory("aws", func() provider.Interface { return New() })
}

type Provider struct {
	region    string
	ec2Client *ec2.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string { return "aws" }

func (p *Provider) Kinds() []schema.Kind {
	return []schema.Kind{
		{
			Name: "aws:Vpc",
			Attributes: map[string]schema.Attribute{
				"cidrBlock": {Required: true, ForceNew: true},
				"tags":      {},
			},
			CanUpdate: true,
		},
		{
			Name: "aws:Subnet",
			Attributes: map[string]schema.Attribute{
				"vpcId":            {Required: true, ForceNew: true},
				"cidrBlock":        {Required: true, ForceNew: true},
				"availabilityZone": {ForceNew: true},
				"tags":             {},
			},
			CanUpdate: true,
		},
		{
			Name: "aws:InternetGateway",
			Attributes: map[string]schema.Attribute{
				"vpcId": {ForceNew: true},
				"tags":  {},
			},
			CanUpdate: true,
		},
		{
			Name: "aws:RouteTable",
			Attributes: map[string]schema.Attribute{
				"vpcId":  {Required: true, ForceNew: true},
				"routes": {},
				"tags":   {},
			},
			CanUpdate: true,
		},
		{
			Name: "aws:SecurityGroup",
			Attributes: map[string]schema.Attribute{
				"name":        {Required: true, ForceNew: true},
				"description": {ForceNew: true},
				"vpcId":       {ForceNew: true},
				"ingress":     {},
				"egress":      {},
			},
			CanUpdate: true,
		},
		{
			Name: "aws:Instance",
			Attributes: map[string]schema.Attribute{
				"ami":              {Required: true, ForceNew: true},
				"instanceType":     {Required: true},
				"subnetId":         {ForceNew: true},
				"securityGroupIds": {},
				"keyName":          {ForceNew: true},
				"userData":         {ForceNew: true},
				"tags":             {},
				"publicIp":         {Computed: true},
				"privateIp":        {Computed: true},
			},
			CanUpdate: true,
		},
	}
}

func (p *Provider) Configure(ctx context.Context, settings map[string]any) error {
	region := "us-east-1"
	if r, ok := settings["region"].(string); ok && r != "" {
		region = r
	}
	p.region = region

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	p.ec2Client = ec2.NewFromConfig(cfg)
	return nil
}

func (p *Provider) Create(ctx context.Context, kind string, attrs map[string]any) (string, map[string]any, error) {
	switch kind {
	case "aws:Vpc":
		return p.createVpc(ctx, attrs)
	case "aws:Subnet":
		return p.createSubnet(ctx, attrs)
	case "aws:InternetGateway":
		return p.createInternetGateway(ctx, attrs)
	case "aws:RouteTable":
		return p.createRouteTable(ctx, attrs)
	case "aws:SecurityGroup":
		return p.createSecurityGroup(ctx, attrs)
	case "aws:Instance":
		return p.createInstance(ctx, attrs)
	}
	return "", nil, fmt.Errorf("unknown kind %q", kind)
}

func (p *Provider) Read(ctx context.Context, kind, id string) (map[string]any, error) {
	switch kind {
	case "aws:Vpc":
		return p.readVpc(ctx, id)
	case "aws:Subnet":
		return p.readSubnet(ctx, id)
	case "aws:InternetGateway":
		return p.readInternetGateway(ctx, id)
	case "aws:RouteTable":
		return p.readRouteTable(ctx, id)
	case "aws:SecurityGroup":
		return p.readSecurityGroup(ctx, id)
	case "aws:Instance":
		return p.readInstance(ctx, id)
	}
	return nil, fmt.Errorf("unknown kind %q", kind)
}

func (p *Provider) Update(ctx context.Context, kind, id string, attrs map[string]any) (map[string]any, error) {
	switch kind {
	case "aws:Vpc", "aws:Subnet", "aws:InternetGateway":
		// Only tags are updatable in place.
		if err := p.applyTags(ctx, id, attrs); err != nil {
			return nil, err
		}
		return map[string]any{"id": id}, nil
	case "aws:RouteTable":
		return p.updateRouteTable(ctx, id, attrs)
	case "aws:SecurityGroup":
		return p.updateSecurityGroup(ctx, id, attrs)
	case "aws:Instance":
		return p.updateInstance(ctx, id, attrs)
	}
	return nil, fmt.Errorf("unknown kind %q", kind)
}

func (p *Provider) Delete(ctx context.Context, kind, id string) error {
	switch kind {
	case "aws:Vpc":
		return p.deleteVpc(ctx, id)
	case "aws:Subnet":
		return p.deleteSubnet(ctx, id)
	case "aws:InternetGateway":
		return p.deleteInternetGateway(ctx, id)
	case "aws:RouteTable":
		return p.deleteRouteTable(ctx, id)
	case "aws:SecurityGroup":
		return p.deleteSecurityGroup(ctx, id)
	case "aws:Instance":
		return p.deleteInstance(ctx, id)
	}
	return fmt.Errorf("unknown kind %q", kind)
}

// decode rebinds loosely typed attributes onto a concrete config struct.
func decode(attrs map[string]any, out any) error {
	data, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode attributes: %w", err)
	}
	return nil
}

// mapNotFound translates the EC2 API's *.NotFound error codes into the
// provider contract's sentinel.
func mapNotFound(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if strings.HasSuffix(code, ".NotFound") || strings.HasSuffix(code, "NotFoundException") {
			return provider.ErrNotFound
		}
	}
	return err
}

package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/accord-io/accord/internal/provider"
)

type vpcConfig struct {
	CidrBlock string            `json:"cidrBlock"`
	Tags      map[string]string `json:"tags"`
}

type subnetConfig struct {
	VpcID               string            `json:"vpcId"`
	CidrBlock           string            `json:"cidrBlock"`
	AvailabilityZone    string            `json:"availabilityZone"`
	MapPublicIpOnLaunch bool              `json:"mapPublicIpOnLaunch"`
	Tags                map[string]string `json:"tags"`
}

type internetGatewayConfig struct {
	VpcID string            `json:"vpcId"`
	Tags  map[string]string `json:"tags"`
}

type routeConfig struct {
	DestinationCidrBlock string `json:"destinationCidrBlock"`
	GatewayID            string `json:"gatewayId"`
}

type routeTableConfig struct {
	VpcID  string            `json:"vpcId"`
	Routes []routeConfig     `json:"routes"`
	Tags   map[string]string `json:"tags"`
}

type securityGroupRule struct {
	FromPort   int      `json:"fromPort"`
	ToPort     int      `json:"toPort"`
	Protocol   string   `json:"protocol"`
	CidrBlocks []string `json:"cidrBlocks"`
}

type securityGroupConfig struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	VpcID       string              `json:"vpcId"`
	Ingress     []securityGroupRule `json:"ingress"`
	Egress      []securityGroupRule `json:"egress"`
}

func (p *Provider) createVpc(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	var cfg vpcConfig
	if err := decode(attrs, &cfg); err != nil {
		return "", nil, err
	}

	resp, err := p.ec2Client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: awssdk.String(cfg.CidrBlock),
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create VPC: %w", err)
	}
	id := awssdk.ToString(resp.Vpc.VpcId)

	if err := p.tagResource(ctx, id, cfg.Tags); err != nil {
		return id, nil, err
	}

	return id, map[string]any{"id": id, "cidrBlock": cfg.CidrBlock}, nil
}

func (p *Provider) readVpc(ctx context.Context, id string) (map[string]any, error) {
	resp, err := p.ec2Client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{id}})
	if err != nil {
		return nil, mapNotFound(err)
	}
	if len(resp.Vpcs) == 0 {
		return nil, provider.ErrNotFound
	}
	vpc := resp.Vpcs[0]
	return map[string]any{
		"id":        awssdk.ToString(vpc.VpcId),
		"cidrBlock": awssdk.ToString(vpc.CidrBlock),
	}, nil
}

func (p *Provider) deleteVpc(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: awssdk.String(id)})
	return mapNotFound(err)
}

func (p *Provider) createSubnet(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	var cfg subnetConfig
	if err := decode(attrs, &cfg); err != nil {
		return "", nil, err
	}

	input := &ec2.CreateSubnetInput{
		VpcId:     awssdk.String(cfg.VpcID),
		CidrBlock: awssdk.String(cfg.CidrBlock),
	}
	if cfg.AvailabilityZone != "" {
		input.AvailabilityZone = awssdk.String(cfg.AvailabilityZone)
	}

	resp, err := p.ec2Client.CreateSubnet(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create subnet: %w", err)
	}
	id := awssdk.ToString(resp.Subnet.SubnetId)

	if cfg.MapPublicIpOnLaunch {
		_, err := p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            awssdk.String(id),
			MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: awssdk.Bool(true)},
		})
		if err != nil {
			return id, nil, fmt.Errorf("failed to enable public IPs on subnet %s: %w", id, err)
		}
	}

	if err := p.tagResource(ctx, id, cfg.Tags); err != nil {
		return id, nil, err
	}

	return id, map[string]any{"id": id, "vpcId": cfg.VpcID}, nil
}

func (p *Provider) readSubnet(ctx context.Context, id string) (map[string]any, error) {
	resp, err := p.ec2Client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: []string{id}})
	if err != nil {
		return nil, mapNotFound(err)
	}
	if len(resp.Subnets) == 0 {
		return nil, provider.ErrNotFound
	}
	subnet := resp.Subnets[0]
	return map[string]any{
		"id":        awssdk.ToString(subnet.SubnetId),
		"vpcId":     awssdk.ToString(subnet.VpcId),
		"cidrBlock": awssdk.ToString(subnet.CidrBlock),
	}, nil
}

func (p *Provider) deleteSubnet(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: awssdk.String(id)})
	return mapNotFound(err)
}

func (p *Provider) createInternetGateway(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	var cfg internetGatewayConfig
	if err := decode(attrs, &cfg); err != nil {
		return "", nil, err
	}

	resp, err := p.ec2Client.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create internet gateway: %w", err)
	}
	id := awssdk.ToString(resp.InternetGateway.InternetGatewayId)

	if cfg.VpcID != "" {
		_, err := p.ec2Client.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
			InternetGatewayId: awssdk.String(id),
			VpcId:             awssdk.String(cfg.VpcID),
		})
		if err != nil {
			return id, nil, fmt.Errorf("failed to attach internet gateway: %w", err)
		}
	}

	if err := p.tagResource(ctx, id, cfg.Tags); err != nil {
		return id, nil, err
	}

	return id, map[string]any{"id": id, "vpcId": cfg.VpcID}, nil
}

func (p *Provider) readInternetGateway(ctx context.Context, id string) (map[string]any, error) {
	resp, err := p.ec2Client.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		InternetGatewayIds: []string{id},
	})
	if err != nil {
		return nil, mapNotFound(err)
	}
	if len(resp.InternetGateways) == 0 {
		return nil, provider.ErrNotFound
	}
	igw := resp.InternetGateways[0]
	out := map[string]any{"id": awssdk.ToString(igw.InternetGatewayId)}
	if len(igw.Attachments) > 0 {
		out["vpcId"] = awssdk.ToString(igw.Attachments[0].VpcId)
	}
	return out, nil
}

func (p *Provider) deleteInternetGateway(ctx context.Context, id string) error {
	// Detach from any VPC before deleting.
	resp, err := p.ec2Client.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		InternetGatewayIds: []string{id},
	})
	if err != nil {
		return mapNotFound(err)
	}
	if len(resp.InternetGateways) > 0 {
		for _, attachment := range resp.InternetGateways[0].Attachments {
			_, err := p.ec2Client.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
				InternetGatewayId: awssdk.String(id),
				VpcId:             attachment.VpcId,
			})
			if err != nil {
				return fmt.Errorf("failed to detach internet gateway: %w", err)
			}
		}
	}

	_, err = p.ec2Client.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{
		InternetGatewayId: awssdk.String(id),
	})
	return mapNotFound(err)
}

func (p *Provider) createRouteTable(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	var cfg routeTableConfig
	if err := decode(attrs, &cfg); err != nil {
		return "", nil, err
	}

	resp, err := p.ec2Client.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{
		VpcId: awssdk.String(cfg.VpcID),
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create route table: %w", err)
	}
	id := awssdk.ToString(resp.RouteTable.RouteTableId)

	if err := p.createRoutes(ctx, id, cfg.Routes); err != nil {
		return id, nil, err
	}

	if err := p.tagResource(ctx, id, cfg.Tags); err != nil {
		return id, nil, err
	}

	return id, map[string]any{"id": id, "vpcId": cfg.VpcID}, nil
}

func (p *Provider) readRouteTable(ctx context.Context, id string) (map[string]any, error) {
	resp, err := p.ec2Client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		RouteTableIds: []string{id},
	})
	if err != nil {
		return nil, mapNotFound(err)
	}
	if len(resp.RouteTables) == 0 {
		return nil, provider.ErrNotFound
	}
	rt := resp.RouteTables[0]
	return map[string]any{
		"id":    awssdk.ToString(rt.RouteTableId),
		"vpcId": awssdk.ToString(rt.VpcId),
	}, nil
}

func (p *Provider) updateRouteTable(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	var cfg routeTableConfig
	if err := decode(attrs, &cfg); err != nil {
		return nil, err
	}

	// Replace the managed routes wholesale: drop every non-local route,
	// then recreate from the declaration.
	resp, err := p.ec2Client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		RouteTableIds: []string{id},
	})
	if err != nil {
		return nil, mapNotFound(err)
	}
	if len(resp.RouteTables) > 0 {
		for _, route := range resp.RouteTables[0].Routes {
			if awssdk.ToString(route.GatewayId) == "local" || route.DestinationCidrBlock == nil {
				continue
			}
			_, _ = p.ec2Client.DeleteRoute(ctx, &ec2.DeleteRouteInput{
				RouteTableId:         awssdk.String(id),
				DestinationCidrBlock: route.DestinationCidrBlock,
			})
		}
	}

	if err := p.createRoutes(ctx, id, cfg.Routes); err != nil {
		return nil, err
	}
	if err := p.tagResource(ctx, id, cfg.Tags); err != nil {
		return nil, err
	}

	return map[string]any{"id": id, "vpcId": cfg.VpcID}, nil
}

func (p *Provider) deleteRouteTable(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{
		RouteTableId: awssdk.String(id),
	})
	return mapNotFound(err)
}

func (p *Provider) createRoutes(ctx context.Context, rtID string, routes []routeConfig) error {
	for _, route := range routes {
		input := &ec2.CreateRouteInput{
			RouteTableId:         awssdk.String(rtID),
			DestinationCidrBlock: awssdk.String(route.DestinationCidrBlock),
		}
		if route.GatewayID != "" {
			input.GatewayId = awssdk.String(route.GatewayID)
		}
		if _, err := p.ec2Client.CreateRoute(ctx, input); err != nil {
			return fmt.Errorf("failed to create route %s: %w", route.DestinationCidrBlock, err)
		}
	}
	return nil
}

func (p *Provider) createSecurityGroup(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	var cfg securityGroupConfig
	if err := decode(attrs, &cfg); err != nil {
		return "", nil, err
	}

	input := &ec2.CreateSecurityGroupInput{
		GroupName:   awssdk.String(cfg.Name),
		Description: awssdk.String(cfg.Description),
	}
	if cfg.VpcID != "" {
		input.VpcId = awssdk.String(cfg.VpcID)
	}

	resp, err := p.ec2Client.CreateSecurityGroup(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create security group: %w", err)
	}
	id := awssdk.ToString(resp.GroupId)

	if err := p.authorizeRules(ctx, id, cfg.Ingress, cfg.Egress); err != nil {
		return id, nil, err
	}

	return id, map[string]any{"id": id, "name": cfg.Name}, nil
}

func (p *Provider) readSecurityGroup(ctx context.Context, id string) (map[string]any, error) {
	resp, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{id},
	})
	if err != nil {
		return nil, mapNotFound(err)
	}
	if len(resp.SecurityGroups) == 0 {
		return nil, provider.ErrNotFound
	}
	sg := resp.SecurityGroups[0]
	return map[string]any{
		"id":   awssdk.ToString(sg.GroupId),
		"name": awssdk.ToString(sg.GroupName),
	}, nil
}

func (p *Provider) updateSecurityGroup(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	var cfg securityGroupConfig
	if err := decode(attrs, &cfg); err != nil {
		return nil, err
	}

	// Revoke existing rules, then re-authorize from the declaration.
	resp, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{id},
	})
	if err != nil {
		return nil, mapNotFound(err)
	}
	if len(resp.SecurityGroups) > 0 {
		sg := resp.SecurityGroups[0]
		if len(sg.IpPermissions) > 0 {
			_, _ = p.ec2Client.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
				GroupId:       awssdk.String(id),
				IpPermissions: sg.IpPermissions,
			})
		}
		if len(sg.IpPermissionsEgress) > 0 {
			_, _ = p.ec2Client.RevokeSecurityGroupEgress(ctx, &ec2.RevokeSecurityGroupEgressInput{
				GroupId:       awssdk.String(id),
				IpPermissions: sg.IpPermissionsEgress,
			})
		}
	}

	if err := p.authorizeRules(ctx, id, cfg.Ingress, cfg.Egress); err != nil {
		return nil, err
	}

	return map[string]any{"id": id, "name": cfg.Name}, nil
}

func (p *Provider) deleteSecurityGroup(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: awssdk.String(id),
	})
	return mapNotFound(err)
}

func (p *Provider) authorizeRules(ctx context.Context, id string, ingress, egress []securityGroupRule) error {
	if len(ingress) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       awssdk.String(id),
			IpPermissions: toIPPermissions(ingress),
		})
		if err != nil {
			return fmt.Errorf("failed to authorize ingress on %s: %w", id, err)
		}
	}
	if len(egress) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       awssdk.String(id),
			IpPermissions: toIPPermissions(egress),
		})
		if err != nil {
			return fmt.Errorf("failed to authorize egress on %s: %w", id, err)
		}
	}
	return nil
}

func toIPPermissions(rules []securityGroupRule) []types.IpPermission {
	var perms []types.IpPermission
	for _, rule := range rules {
		var ipRanges []types.IpRange
		for _, cidr := range rule.CidrBlocks {
			ipRanges = append(ipRanges, types.IpRange{CidrIp: awssdk.String(cidr)})
		}
		perms = append(perms, types.IpPermission{
			IpProtocol: awssdk.String(rule.Protocol),
			FromPort:   awssdk.Int32(int32(rule.FromPort)),
			ToPort:     awssdk.Int32(int32(rule.ToPort)),
			IpRanges:   ipRanges,
		})
	}
	return perms
}

// applyTags pulls the tags attribute out of a raw attribute map and
// applies it; used by the tag-only update paths.
func (p *Provider) applyTags(ctx context.Context, id string, attrs map[string]any) error {
	tags := make(map[string]string)
	if raw, ok := attrs["tags"].(map[string]any); ok {
		for k, v := range raw {
			tags[k] = fmt.Sprintf("%v", v)
		}
	}
	return p.tagResource(ctx, id, tags)
}

func (p *Provider) tagResource(ctx context.Context, id string, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}
	var ec2Tags []types.Tag
	for k, v := range tags {
		ec2Tags = append(ec2Tags, types.Tag{Key: awssdk.String(k), Value: awssdk.String(v)})
	}
	_, err := p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{id},
		Tags:      ec2Tags,
	})
	if err != nil {
		return fmt.Errorf("failed to tag %s: %w", id, err)
	}
	return nil
}

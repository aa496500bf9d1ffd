// Package store defines the persisted records of complyio (registrations,
// deviations, exclusions and compliance reports), their key derivation and
// the storage interfaces with an in-memory implementation.
package store

import (
	"strconv"
	"strings"
)

// Key addresses a record by partition and row, as Azure Table Storage does.
type Key struct {
	PartitionKey string
	RowKey       string
}

// String returns the key in partition/row form.
func (k Key) String() string {
	return k.PartitionKey + "/" + k.RowKey
}

const keySeparator = "|"

// Characters not allowed in table keys are replaced.
var keyReplacer = strings.NewReplacer("/", "_", `\`, "_", "#", "_", "?", "_", keySeparator, "_")

func keyPart(s string) string {
	return keyReplacer.Replace(strings.ToLower(strings.TrimSpace(s)))
}

func joinKey(parts ...string) string {
	for i, p := range parts {
		parts[i] = keyPart(p)
	}
	return strings.Join(parts, keySeparator)
}

// DeviationKey derives the key of a deviation. The components are compared
// case-insensitively.
func DeviationKey(organization, projectID, ruleName, itemID, ciIdentifier, foreignProjectID string) Key {
	return Key{
		PartitionKey: keyPart(organization),
		RowKey:       joinKey(projectID, ruleName, itemID, ciIdentifier, foreignProjectID),
	}
}

// ExclusionKey derives the key of a pipeline exclusion.
func ExclusionKey(organization, projectID string, pipelineID int, pipelineType PipelineType) Key {
	return Key{
		PartitionKey: keyPart(organization),
		RowKey:       joinKey(projectID, strconv.Itoa(pipelineID), string(pipelineType)),
	}
}

// RegistrationKey derives the key of a registration; stageID is empty for
// pipeline level registrations.
func RegistrationKey(organization, projectID string, pipelineID int, pipelineType PipelineType, stageID string) Key {
	return Key{
		PartitionKey: keyPart(organization),
		RowKey:       joinKey(projectID, strconv.Itoa(pipelineID), string(pipelineType), stageID),
	}
}

// ReportKey derives the key of the latest report of an item.
func ReportKey(organization, projectID, itemID, kind string) Key {
	return Key{
		PartitionKey: keyPart(organization),
		RowKey:       joinKey(projectID, kind, itemID),
	}
}

// pipelinePrefix is the row key prefix shared by every registration of a pipeline.
func pipelinePrefix(projectID string, pipelineID int, pipelineType PipelineType) string {
	return joinKey(projectID, strconv.Itoa(pipelineID), string(pipelineType)) + keySeparator
}

// PartitionKey returns the partition holding the records of an organization.
func PartitionKey(organization string) string {
	return keyPart(organization)
}

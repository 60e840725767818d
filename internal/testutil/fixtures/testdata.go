// Package fixtures provides shared test data constants and factory
// functions for the Mnemora Core SDK test suite.
//
// Using common constants for test component identities prevents magic
// strings in tests and ensures consistency across packages.
package fixtures

// Standard component identity values used across lifecycle and integration tests.
const (
	// ComponentID is the default component ID for unit tests.
	ComponentID = "memory-backend-001"

	// ComponentName is the default component name for unit tests.
	ComponentName = "test-component"

	// ComponentVersion is the default component version for unit tests.
	ComponentVersion = "1.0.0"

	// AltComponentID is an alternative component ID for tests requiring two components.
	AltComponentID = "memory-backend-002"

	// AltComponentName is an alternative component name for tests requiring two components.
	AltComponentName = "alt-component"

	// AltComponentVersion is an alternative component version string.
	AltComponentVersion = "2.0.0"
)

// Standard identity values used in auth tests.
const (
	// TestSubject is the default subject claim for test identities.
	TestSubject = "user-abc-123"

	// TestIssuer is the default issuer for test identities.
	TestIssuer = "https://auth.mnemora.test"

	// TestAudience is the default audience for test identities.
	TestAudience = "mnemora-core"

	// TestServiceName is the default service name for service identities.
	TestServiceName = "test-service"

	// TestServiceVersion is the default service version for service identities.
	TestServiceVersion = "1.0.0"
)

// Standard memory values used in pipeline tests.
const (
	// TestMemoryText is a short memory body used by write-path tests.
	TestMemoryText = "User prefers dark mode in all editors."

	// TestSessionID is the default session ID for transcript and realtime tests.
	TestSessionID = "sess-fixture-01"
)

// Standard configuration values used in config loader tests.
const (
	// TestEnvPrefix is the default environment variable prefix for config tests.
	TestEnvPrefix = "TESTAPP"

	// TestConfigYAML is a minimal valid YAML configuration for tests.
	TestConfigYAML = `host: localhost
port: 8080
database: testdb
`

	// TestConfigJSON is a minimal valid JSON configuration for tests.
	TestConfigJSON = `{
  "host": "localhost",
  "port": 8080,
  "database": "testdb"
}`
)

// Standard database configuration values used in postgres client tests.
const (
	// TestDBHost is the default database host for test configurations.
	TestDBHost = "localhost"

	// TestDBPort is the default database port for test configurations.
	TestDBPort = 5432

	// TestDBName is the default database name for test configurations.
	TestDBName = "testdb"

	// TestDBUser is the default database user for test configurations.
	TestDBUser = "testuser"

	// TestDBPassword is the default database password for test configurations.
	// This is a deliberately weak value suitable only for unit tests.
	TestDBPassword = "testpass"
)

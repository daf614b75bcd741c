package schema

// Root type and property names used outside the schema declaration.
const (
	Environment        = "Environment"
	EnvironmentKey     = "account_number_name"
	LastUpdateProperty = "last_update"
)

// defaultTypes is the cloud snitch entity tree.
var defaultTypes = []EntityType{
	{
		Label:      Environment,
		Identity:   []string{"account_number", "name"},
		Properties: []string{LastUpdateProperty},
	},
	{
		Label:        "Uservar",
		Parent:       Environment,
		Relationship: "HAS_USERVAR",
		Identity:     []string{"name", "environment"},
		State:        []string{"value"},
	},
	{
		Label:        "Host",
		Parent:       Environment,
		Relationship: "HAS_HOST",
		Identity:     []string{"hostname", "environment"},
		State: []string{
			"architecture",
			"kernel",
			"memtotal_mb",
			"os_distribution",
			"os_distribution_version",
			"os_family",
			"processor_count",
		},
	},
	{
		Label:        "Configfile",
		Parent:       "Host",
		Relationship: "HAS_CONFIGFILE",
		Identity:     []string{"path", "host"},
		Properties:   []string{"name"},
		State:        []string{"md5", "contents", "is_binary"},
	},
	{
		Label:        "ConfiguredInterface",
		Parent:       "Host",
		Relationship: "HAS_CONFIGURED_INTERFACE",
		Identity:     []string{"device", "host"},
		State: []string{
			"bootproto",
			"defroute",
			"gateway",
			"ipaddr",
			"mtu",
			"netmask",
			"onboot",
			"type",
		},
	},
	{
		Label:        "Interface",
		Parent:       "Host",
		Relationship: "HAS_INTERFACE",
		Identity:     []string{"device", "host"},
		State: []string{
			"active",
			"ipv4_address",
			"ipv4_netmask",
			"macaddress",
			"module",
			"mtu",
			"promisc",
			"speed",
			"type",
		},
	},
	{
		Label:        "Device",
		Parent:       "Host",
		Relationship: "HAS_DEVICE",
		Identity:     []string{"name", "host"},
		State:        []string{"model", "removable", "rotational", "size", "vendor"},
	},
	{
		Label:        "Partition",
		Parent:       "Device",
		Relationship: "HAS_PARTITION",
		Identity:     []string{"name", "device"},
		State:        []string{"sectors", "sectorsize", "size", "start", "uuid"},
	},
	{
		Label:        "Mount",
		Parent:       "Host",
		Relationship: "HAS_MOUNT",
		Identity:     []string{"mount", "host"},
		State:        []string{"device", "fstype", "options", "size_available", "size_total"},
	},
	{
		Label:        "NameServer",
		Parent:       "Host",
		Relationship: "HAS_NAMESERVER",
		Identity:     []string{"ip"},
		Shared:       true,
	},
	{
		Label:        "AptPackage",
		Parent:       "Host",
		Relationship: "HAS_APT_PACKAGE",
		Identity:     []string{"name", "version"},
		Shared:       true,
	},
	{
		Label:        "Virtualenv",
		Parent:       "Host",
		Relationship: "HAS_VIRTUALENV",
		Identity:     []string{"path", "host"},
	},
	{
		Label:        "PythonPackage",
		Parent:       "Virtualenv",
		Relationship: "HAS_PYTHON_PACKAGE",
		Identity:     []string{"name", "version"},
		Shared:       true,
	},
	{
		Label:        "GitRepo",
		Parent:       "Host",
		Relationship: "HAS_GIT_REPO",
		Identity:     []string{"path", "host"},
		State:        []string{"active_branch", "head_commit", "merge_base_name", "merge_base_commit"},
	},
	{
		Label:        "GitRemote",
		Parent:       "GitRepo",
		Relationship: "HAS_GIT_REMOTE",
		Identity:     []string{"name", "repo"},
	},
	{
		Label:        "GitUrl",
		Parent:       "GitRemote",
		Relationship: "HAS_GIT_URL",
		Identity:     []string{"url"},
		Shared:       true,
	},
	{
		Label:        "GitUntrackedFile",
		Parent:       "GitRepo",
		Relationship: "HAS_UNTRACKED_FILE",
		Identity:     []string{"path", "repo"},
	},
}

// Default returns the registry for the cloud snitch entity tree.
func Default() *Registry {
	r, err := New(defaultTypes...)
	if err != nil {
		panic("schema: default types are invalid: " + err.Error())
	}
	return r
}

// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"sort"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

// Catalog identifiers. Values start at 1 so the zero Id means "no issue".
const (
	SandboxUnavailableId Id = iota + 1
	ContainerEngineNotFoundId
	ProfileAssemblyFailedId
	BuildToolFailedId
	FetchToolMissingId
	NetworkUnavailableId
	DependencyAbsentId
	StateMissingId
	InterpreterMissingId
	TargetProgramMissingId
	ArtifactNotFoundId
	ConfigLoadFailedId
)

type (
	// Id identifies a catalog entry.
	Id int

	// MarkdownMsg is Markdown text rendered for the user.
	MarkdownMsg string

	// HttpLink is a documentation or external reference link.
	HttpLink string

	// Issue is a catalog entry: a Markdown explanation plus remediation steps.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
		extLinks []HttpLink
	}
)

// Id returns the catalog identifier.
func (i *Issue) Id() Id {
	return i.id
}

// MarkdownMsg returns the raw Markdown message.
func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

// DocLinks returns a copy of the documentation links.
func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

// ExtLinks returns a copy of the external links.
func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the issue for a terminal using the given glamour style
// ("auto", "dark", "light", "notty" or a path to a JSON style).
func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n## See also\n"
		for _, link := range i.docLinks {
			extraMd += "- <" + string(link) + ">\n"
		}
		for _, link := range i.extLinks {
			extraMd += "- <" + string(link) + ">\n"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	sandboxUnavailableIssue = &Issue{
		id: SandboxUnavailableId,
		mdMsg: `
# The build sandbox could not be started

The ephemeral build container failed to start or the base sandbox image
could not be provisioned.

## Things you can try
- Check that the container engine daemon is running:
~~~
$ docker info
~~~
- The build sandbox needs privileged mode for loop devices; rootless
  engines may refuse it.
- Rebuild the base image from scratch:
~~~
$ vibeos build --force-rebuild
~~~`,
	}

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundId,
		mdMsg: `
# No container engine found

vibeos builds images inside a Docker or Podman container.

## Things you can try
- Install Docker or Podman and make sure it is on your PATH
- Select the engine explicitly in your config:
~~~cue
container_engine: "podman"
~~~`,
	}

	profileAssemblyFailedIssue = &Issue{
		id: ProfileAssemblyFailedId,
		mdMsg: `
# The build profile could not be assembled

The profile source tree is incomplete. A profile needs at least a
non-empty ` + "`packages.x86_64`" + ` manifest and an ` + "`airootfs/`" + ` overlay.

## Things you can try
- Check that ` + "`packages.x86_64`" + ` lists one package per line
- Check ` + "`profile.toml`" + ` permission entries use ` + "`owner:group:mode`",
	}

	buildToolFailedIssue = &Issue{
		id: BuildToolFailedId,
		mdMsg: `
# The image builder failed

mkarchiso exited with an error. No artifact was published and no
build-complete marker was written.

## Things you can try
- Re-run with verbose output to see the full builder log:
~~~
$ vibeos build --verbose
~~~
- Clean the work directory and retry:
~~~
$ vibeos clean && vibeos build
~~~`,
	}

	fetchToolMissingIssue = &Issue{
		id: FetchToolMissingId,
		mdMsg: `
# npm is not available in the image

The dependency installer needs npm to install Claude Code. Nothing was
installed and no provisioning record was written.

## Things you can try
- Add ` + "`nodejs`" + ` and ` + "`npm`" + ` to ` + "`packages.x86_64`" + `
- Rebuild the image`,
	}

	networkUnavailableIssue = &Issue{
		id: NetworkUnavailableId,
		mdMsg: `
# The network looked unavailable during provisioning

Connectivity or name resolution failed inside the build sandbox. The
installer skipped network strategies and tried the offline archive.

## Things you can try
- Provide resolvers explicitly:
~~~
$ VIBEOS_RESOLVERS=8.8.8.8,1.1.1.1 vibeos build
~~~
- Pre-fetch the package archive so the offline strategy can run`,
	}

	dependencyAbsentIssue = &Issue{
		id: DependencyAbsentId,
		mdMsg: `
# Claude Code is not installed

The natural language shell needs Claude Code, but it was not installed
when this image was built. You are in the baseline shell instead.

## To fix it
~~~
$ sudo vibeos provision
~~~
or install it by hand:
~~~
$ sudo npm install -g @anthropic-ai/claude-code
$ claude-code auth
~~~`,
	}

	stateMissingIssue = &Issue{
		id: StateMissingId,
		mdMsg: `
# No provisioning record found

This image has no record of a Claude Code installation, so it is treated
as not installed. You are in the baseline shell instead.

## To fix it
~~~
$ sudo vibeos provision
~~~`,
	}

	interpreterMissingIssue = &Issue{
		id: InterpreterMissingId,
		mdMsg: `
# python3 is missing

The natural language shell runs on python3, which is not on this system.
You are in the baseline shell instead.

## To fix it
~~~
$ sudo pacman -S python
~~~`,
	}

	targetProgramMissingIssue = &Issue{
		id: TargetProgramMissingId,
		mdMsg: `
# vibesh is missing

The natural language shell launcher was not found. You are in the baseline
shell instead.

## To fix it
- Rebuild the image; the launcher is part of the profile overlay`,
	}

	artifactNotFoundIssue = &Issue{
		id: ArtifactNotFoundId,
		mdMsg: `
# No completed build found

The output directory has no build-complete marker, so there is no artifact
that is safe to boot.

## Things you can try
~~~
$ vibeos build
~~~`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration

The configuration file has CUE syntax errors or values that do not match
the schema.

## Things you can try
- Print the effective defaults:
~~~
$ vibeos config show
~~~
- Regenerate a default file:
~~~
$ vibeos config init
~~~`,
	}

	issues = map[Id]*Issue{
		sandboxUnavailableIssue.Id():      sandboxUnavailableIssue,
		containerEngineNotFoundIssue.Id(): containerEngineNotFoundIssue,
		profileAssemblyFailedIssue.Id():   profileAssemblyFailedIssue,
		buildToolFailedIssue.Id():         buildToolFailedIssue,
		fetchToolMissingIssue.Id():        fetchToolMissingIssue,
		networkUnavailableIssue.Id():      networkUnavailableIssue,
		dependencyAbsentIssue.Id():        dependencyAbsentIssue,
		stateMissingIssue.Id():            stateMissingIssue,
		interpreterMissingIssue.Id():      interpreterMissingIssue,
		targetProgramMissingIssue.Id():    targetProgramMissingIssue,
		artifactNotFoundIssue.Id():        artifactNotFoundIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	values := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		values = append(values, i)
	}
	sort.Slice(values, func(a, b int) bool { return values[a].id < values[b].id })
	return values
}

// Get returns the catalog entry for id, or nil when unknown.
func Get(id Id) *Issue {
	return issues[id]
}

package runes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopMethod(ctx context.Context, args map[string]any) error {
	return nil
}

func TestSetTokenValidatesUUID(t *testing.T) {
	client := NewClient(DefaultConfig())

	err := client.SetToken("not-a-uuid")
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	require.NoError(t, client.SetToken(testMasterToken))
}

func TestEnvironmentTokenLocksSetToken(t *testing.T) {
	const envToken = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	t.Setenv(EnvMasterToken, envToken)

	client := NewClient(DefaultConfig())

	// The call is ignored, not rejected
	require.NoError(t, client.SetToken(testMasterToken))
	require.NoError(t, client.RegisterMethod("generate_sample", noopMethod, nil, nil))

	fromEnv, err := ComputeConnectionIdentity(envToken, client.Contract())
	require.NoError(t, err)
	assert.Equal(t, fromEnv, client.ConnectionToken())
}

func TestRegisterMethodRequiresToken(t *testing.T) {
	client := NewClient(DefaultConfig())

	err := client.RegisterMethod("generate_sample", noopMethod, nil, nil)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Contains(t, stateErr.Message, "master token not set")
}

func TestRegisterMethodRequiresCallable(t *testing.T) {
	client := NewClient(DefaultConfig())
	require.NoError(t, client.SetToken(testMasterToken))

	err := client.RegisterMethod("generate_sample", nil, nil, nil)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Contains(t, stateErr.Message, "must not be nil")
}

func TestRegisterMethodBindsContractAndIdentity(t *testing.T) {
	client := NewClient(DefaultConfig())
	require.NoError(t, client.SetToken(testMasterToken))
	client.SetAuthor("Ada")
	client.SetName("Sampler")
	client.SetDescription("Generates a sample")
	client.SetVersion("1.2.0")

	require.NoError(t, client.RegisterMethod("generate_sample", noopMethod, []ParamDescriptor{
		{Name: "a", Type: ParamInt},
	}, nil))

	contract := client.Contract()
	require.NotNil(t, contract)
	assert.Equal(t, "generate_sample", contract.MethodName)
	assert.Equal(t, "Ada", contract.Author)
	assert.Equal(t, "1.2.0", contract.Version)
	require.NotNil(t, client.Output())

	expected, err := ComputeConnectionIdentity(testMasterToken, contract)
	require.NoError(t, err)
	assert.Equal(t, expected, client.ConnectionToken())
}

func TestRegisterMethodRejectsInvalidContract(t *testing.T) {
	client := NewClient(DefaultConfig())
	require.NoError(t, client.SetToken(testMasterToken))

	err := client.RegisterMethod("generate_sample", noopMethod, []ParamDescriptor{
		{Name: "a", Type: "matrix"},
	}, nil)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Empty(t, client.ConnectionToken())
	assert.Nil(t, client.Contract())
}

func TestMetadataSettersSyncRegisteredContract(t *testing.T) {
	client := NewClient(DefaultConfig())
	require.NoError(t, client.SetToken(testMasterToken))
	require.NoError(t, client.RegisterMethod("generate_sample", noopMethod, nil, nil))

	before := client.ConnectionToken()

	client.SetDescription("A sharper description")
	assert.Equal(t, "A sharper description", client.Contract().Description)

	// Identity only moves on the next registration
	assert.Equal(t, before, client.ConnectionToken())

	require.NoError(t, client.RegisterMethod("generate_sample", noopMethod, nil, nil))
	assert.NotEqual(t, before, client.ConnectionToken())
}

func TestReRegistrationReplacesMethod(t *testing.T) {
	svc := newFakeService(t)
	client := newTestClient(t, svc.server.URL)
	client.transcoder = &fakeTranscoder{available: true}

	require.NoError(t, client.RegisterMethod("first_method", noopMethod, nil, nil))
	firstToken := client.ConnectionToken()

	require.NoError(t, client.RegisterMethod("second_method", noopMethod, nil, nil))
	assert.NotEqual(t, firstToken, client.ConnectionToken())

	err := client.Run(context.Background(), "first_method", nil)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)

	require.NoError(t, client.Run(context.Background(), "second_method", nil))
}

func TestAudioTargetSetters(t *testing.T) {
	client := NewClient(DefaultConfig())

	require.NoError(t, client.SetInputSampleRate(32000))
	require.NoError(t, client.SetInputFormat("mp3"))
	targets := client.InputTargets()
	assert.Equal(t, 32000, targets.SampleRate)
	assert.Equal(t, "mp3", targets.Format)

	require.Error(t, client.SetOutputSampleRate(12345))
	require.Error(t, client.SetOutputFormat("opus"))
	require.NoError(t, client.SetOutputBitDepth(24))
	require.NoError(t, client.SetOutputChannels(1))
}

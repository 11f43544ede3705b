package sqlinline

const QSelectIntegrationToken = `--sql bbf3fa5d-dd1a-4579-a11f-7902cf6d4897
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql a113ed15-bf9c-4bfa-b209-c5ac25e3af18
insert into integration_tokens (provider, token, created_at, updated_at)
values ($1::text, $2::text, now(), now())
on conflict (provider) do update set
    token = excluded.token,
    updated_at = now();
`
